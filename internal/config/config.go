package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

// Config holds all application configuration
type Config struct {
	Sheet         SheetConfig         `toml:"sheet"`
	Region        RegionConfig        `toml:"region"`
	Retry         RetryConfig         `toml:"retry"`
	Worker        WorkerConfig        `toml:"worker"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	General       GeneralConfig       `toml:"general"`
}

// SheetConfig selects and parameterizes the spreadsheet backend
type SheetConfig struct {
	// Backend is "xlsx", "google" or "memory"
	Backend string `toml:"backend"`
	// Path is the workbook file for the xlsx backend
	Path string `toml:"path"`
	// SpreadsheetID and AccessToken configure the google backend
	SpreadsheetID string `toml:"spreadsheet_id"`
	AccessToken   string `toml:"access_token"`
	// SheetName is the tab to process
	SheetName string `toml:"sheet_name"`
}

// RegionConfig controls work-region detection
type RegionConfig struct {
	WorkInstructionMarker string `toml:"work_instruction_marker"`
	CopyMarker            string `toml:"copy_marker"`
	// DefaultHeaderRow is the conventional header position (0-based),
	// checked before scanning the whole sheet
	DefaultHeaderRow int `toml:"default_header_row"`
	StatusOffset     int `toml:"status_offset"`
	ErrorOffset      int `toml:"error_offset"`
	OutputOffset     int `toml:"output_offset"`
	// RowPredicate is "nonempty" (any non-empty row identifier) or
	// "sequential" (the stricter 1,2,3... numbering convention)
	RowPredicate string `toml:"row_predicate"`
}

// RetryConfig parameterizes the retry policy
type RetryConfig struct {
	MaxAttempts           int     `toml:"max_attempts"`
	UnknownMaxAttempts    int     `toml:"unknown_max_attempts"`
	BaseRetryDelaySeconds float64 `toml:"base_retry_delay_seconds"`
	RateLimitDelaySeconds float64 `toml:"rate_limit_retry_delay_seconds"`
	RateLimitMaxAttempts  int     `toml:"rate_limit_max_attempts"`
}

// WorkerConfig holds AI worker settings
type WorkerConfig struct {
	// Default names the registry entry used for columns with no binding
	Default string `toml:"default"`
	// DefinitionsPath points at the workers.yaml tool definitions
	DefinitionsPath string `toml:"definitions_path"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	// ColumnBindings maps an input column letter to a worker name;
	// distinct workers on distinct columns may run in parallel
	ColumnBindings map[string]string `toml:"column_bindings"`
	Parallel       bool              `toml:"parallel"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds progress-server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
}

// Default returns a Config with the standard sheet layout conventions.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Sheet: SheetConfig{
			Backend:   "xlsx",
			SheetName: "Sheet1",
		},
		Region: RegionConfig{
			WorkInstructionMarker: domain.MarkerWorkInstruction,
			CopyMarker:            domain.MarkerCopy,
			DefaultHeaderRow:      4,
			StatusOffset:          -2,
			ErrorOffset:           -1,
			OutputOffset:          1,
			RowPredicate:          "nonempty",
		},
		Retry: RetryConfig{
			MaxAttempts:           5,
			UnknownMaxAttempts:    2,
			BaseRetryDelaySeconds: 1,
			RateLimitDelaySeconds: 30,
			RateLimitMaxAttempts:  5,
		},
		Worker: WorkerConfig{
			Default:        "scripted",
			TimeoutSeconds: 300,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".sheetflow", "sheetflow.db"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.Sheet.Path = ExpandPath(cfg.Sheet.Path)
	cfg.Worker.DefinitionsPath = ExpandPath(cfg.Worker.DefinitionsPath)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	return cfg, nil
}

// Validate fails fast on configuration the run could not start with.
// Derived-column collisions depend on the actual input column index and
// are checked by the region detector; this catches what is knowable
// before reading the sheet.
func (c *Config) Validate() error {
	if c.Region.WorkInstructionMarker == "" {
		return fmt.Errorf("region: work_instruction_marker must not be empty")
	}
	if c.Region.CopyMarker == "" {
		return fmt.Errorf("region: copy_marker must not be empty")
	}
	if c.Region.DefaultHeaderRow < 0 {
		return fmt.Errorf("region: default_header_row must be >= 0, got %d", c.Region.DefaultHeaderRow)
	}
	offs := []struct {
		name string
		off  int
	}{
		{"status_offset", c.Region.StatusOffset},
		{"error_offset", c.Region.ErrorOffset},
		{"output_offset", c.Region.OutputOffset},
	}
	seen := make(map[int]string)
	for _, o := range offs {
		if o.off == 0 {
			return fmt.Errorf("region: %s must not be 0 (would overwrite the input column)", o.name)
		}
		if other, dup := seen[o.off]; dup {
			return fmt.Errorf("region: %s and %s share offset %d", other, o.name, o.off)
		}
		seen[o.off] = o.name
	}
	switch c.Region.RowPredicate {
	case "nonempty", "sequential":
	default:
		return fmt.Errorf("region: row_predicate must be \"nonempty\" or \"sequential\", got %q", c.Region.RowPredicate)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry: max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.UnknownMaxAttempts <= 0 {
		return fmt.Errorf("retry: unknown_max_attempts must be positive, got %d", c.Retry.UnknownMaxAttempts)
	}
	if c.Retry.BaseRetryDelaySeconds < 0 || c.Retry.RateLimitDelaySeconds < 0 {
		return fmt.Errorf("retry: delays must not be negative")
	}
	switch c.Sheet.Backend {
	case "xlsx", "google", "memory":
		// The sheet target (path or spreadsheet id) may instead come
		// from a command argument or a schedule entry, so it is checked
		// where a run starts, not here.
	default:
		return fmt.Errorf("sheet: unknown backend %q", c.Sheet.Backend)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sheetflow", "config.toml")
}
