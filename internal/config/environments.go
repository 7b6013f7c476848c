package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvironmentsFileName is the file inside the config directory listing the
// target environments runs may execute against.
const EnvironmentsFileName = "environments.json"

// Environment describes one target environment the orchestrator can run
// tests against. Codes are opaque strings (SIT1, SIT2, PROD, ...).
type Environment struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	IsProd bool   `json:"isProd"`
}

// Environments is the immutable registry of known environments, loaded once
// at startup. Lookup is by exact code.
type Environments struct {
	list   []Environment
	byCode map[string]Environment
}

// environmentsFile mirrors the on-disk shape of environments.json.
type environmentsFile struct {
	Environments []Environment `json:"environments"`
}

// LoadEnvironments reads environments.json from the config directory. The
// file is required: an orchestrator with no environments cannot accept any
// run, so a missing or empty registry aborts startup.
func LoadEnvironments(configDir string) (*Environments, error) {
	path := filepath.Join(configDir, EnvironmentsFileName)

	var parsed environmentsFile

	if err := decodeJSONFile(path, &parsed); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config: environments file %s not found", path)
		}

		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if len(parsed.Environments) == 0 {
		return nil, fmt.Errorf("config: %s declares no environments", path)
	}

	envs := &Environments{
		list:   parsed.Environments,
		byCode: make(map[string]Environment, len(parsed.Environments)),
	}

	for _, e := range parsed.Environments {
		if e.Code == "" {
			return nil, fmt.Errorf("config: %s contains an environment with an empty code", path)
		}

		if _, dup := envs.byCode[e.Code]; dup {
			return nil, fmt.Errorf("config: %s declares environment %q twice", path, e.Code)
		}

		envs.byCode[e.Code] = e
	}

	return envs, nil
}

// List returns all environments in file order.
func (e *Environments) List() []Environment {
	out := make([]Environment, len(e.list))
	copy(out, e.list)

	return out
}

// Known reports whether the given code names a configured environment.
func (e *Environments) Known(code string) bool {
	_, ok := e.byCode[code]

	return ok
}

// Get returns the environment for the given code, if known.
func (e *Environments) Get(code string) (Environment, bool) {
	env, ok := e.byCode[code]

	return env, ok
}
