package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of Settings. Durations are written in
// time.ParseDuration form so the file round-trips through Load.
type document struct {
	Settings   `yaml:",inline"`
	JobTimeout string `yaml:"job_timeout" toml:"job_timeout"`
}

// Marshal renders s as "yaml" (default) or "toml".
func Marshal(s Settings, format string) ([]byte, error) {
	doc := document{Settings: s, JobTimeout: s.JobTimeout.String()}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "yaml", "yml":
		out, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal yaml: %w", err)
		}
		return out, nil
	case "toml":
		out, err := toml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal toml: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("config format: unsupported value %q", format)
	}
}

// WriteFile writes s to path, refusing to replace an existing file unless
// overwrite is set. The format follows the file extension.
func WriteFile(s Settings, path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}

	format := strings.TrimPrefix(filepath.Ext(path), ".")
	data, err := Marshal(s, format)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
