package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Load reads and parses app.config.json from the given directory, applies
// environment variable overrides, validates the result, and returns the
// effective Config. A missing config file is not an error — defaults apply —
// but a present, unparseable file aborts startup so a typo never silently
// reverts the orchestrator to defaults.
func Load(configDir string, env EnvOverrides) (*Config, error) {
	if env.ConfigPath != "" {
		configDir = env.ConfigPath
	}

	cfg := DefaultConfig()
	cfg.ConfigDir = configDir

	path := filepath.Join(configDir, AppConfigFileName)

	if err := decodeJSONFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg, env); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides copies non-empty environment values onto the config.
// PORT must parse as an integer; the other values are opaque paths.
func applyEnvOverrides(cfg *Config, env EnvOverrides) error {
	if env.Port != "" {
		port, err := strconv.Atoi(env.Port)
		if err != nil {
			return fmt.Errorf("config: PORT %q is not a number: %w", env.Port, err)
		}

		cfg.Port = port
	}

	if env.TestRoot != "" {
		cfg.TestRoot = env.TestRoot
	}

	if env.ArtifactRoot != "" {
		cfg.ArtifactRoot = env.ArtifactRoot
	}

	if env.DatabasePath != "" {
		cfg.DatabasePath = env.DatabasePath
	}

	return nil
}

// decodeJSONFile decodes a JSON file into dst. Unknown fields are rejected
// so a misspelled key fails loudly instead of being silently ignored.
func decodeJSONFile(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}

	return nil
}
