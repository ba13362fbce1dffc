// Package batch runs sheets unattended on cron schedules: overnight
// translation passes, weekday refreshes. Each schedule entry names the
// sheet it re-runs; the done markers keep repeated runs cheap.
package batch

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Entry is one scheduled sheet run
type Entry struct {
	Name             string        `toml:"name"`
	Cron             string        `toml:"cron"`
	Sheet            string        `toml:"sheet"`      // workbook path or spreadsheet id
	SheetName        string        `toml:"sheet_name"` // optional tab
	MaxDuration      time.Duration `toml:"max_duration"`
	NotifyOnComplete bool          `toml:"notify_on_complete"`
}

// ScheduleConfig holds all schedule entries
type ScheduleConfig struct {
	Entries []Entry `toml:"schedule"`
}

// Validate checks if the entry is valid
func (e *Entry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if e.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(e.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if e.Sheet == "" {
		return fmt.Errorf("sheet is required")
	}
	if e.MaxDuration <= 0 {
		e.MaxDuration = 4 * time.Hour // Default
	}
	return nil
}

// LoadScheduleConfig loads the schedule from a TOML file
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Entries {
		if err := cfg.Entries[i].Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
	}

	return &cfg, nil
}
