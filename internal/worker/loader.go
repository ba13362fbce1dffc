package worker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is one entry in a workers.yaml file.
type Definition struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Kind           string            `yaml:"kind"` // "http" is the only wire kind
	URL            string            `yaml:"url"`
	Model          string            `yaml:"model"`
	APIKeyEnv      string            `yaml:"api_key_env"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// DefinitionsFile is the top-level shape of workers.yaml.
type DefinitionsFile struct {
	Workers []Definition `yaml:"workers"`
}

// LoadDefinitions parses a workers.yaml file.
func LoadDefinitions(path string) (*DefinitionsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions parses workers.yaml content.
func ParseDefinitions(data []byte) (*DefinitionsFile, error) {
	var file DefinitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse worker definitions: %w", err)
	}
	for i, def := range file.Workers {
		if def.ID == "" {
			return nil, fmt.Errorf("worker definition %d has no id", i)
		}
	}
	return &file, nil
}

// BuildRegistry instantiates every definition and registers it. API keys
// are resolved from the environment at build time, not stored in the file.
func BuildRegistry(file *DefinitionsFile, defaultTimeout time.Duration) (*Registry, error) {
	reg := NewRegistry()
	for _, def := range file.Workers {
		w, err := buildWorker(def, defaultTimeout)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(w); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildWorker(def Definition, defaultTimeout time.Duration) (AIWorker, error) {
	switch def.Kind {
	case "", "http":
		timeout := defaultTimeout
		if def.TimeoutSeconds > 0 {
			timeout = time.Duration(def.TimeoutSeconds) * time.Second
		}
		var apiKey string
		if def.APIKeyEnv != "" {
			apiKey = os.Getenv(def.APIKeyEnv)
		}
		return NewHTTPWorker(HTTPWorkerOptions{
			ID:      def.ID,
			URL:     def.URL,
			Model:   def.Model,
			APIKey:  apiKey,
			Headers: def.Headers,
			Timeout: timeout,
		})
	default:
		return nil, fmt.Errorf("worker %s: unknown kind %q", def.ID, def.Kind)
	}
}
