package config

import "os"

// Environment variable names for overrides. These win over app.config.json
// values; CONFIG_PATH relocates the whole config directory.
const (
	EnvPort         = "PORT"
	EnvTestRoot     = "TEST_ROOT"
	EnvArtifactRoot = "ARTIFACT_ROOT"
	EnvDatabasePath = "DATABASE_PATH"
	EnvConfigPath   = "CONFIG_PATH"
)

// EnvOverrides holds values derived from environment variables. These are
// read once by ReadEnvOverrides; callers apply the non-empty fields.
type EnvOverrides struct {
	Port         string // PORT: listen port override
	TestRoot     string // TEST_ROOT: deployed test tree root
	ArtifactRoot string // ARTIFACT_ROOT: artifact tree root
	DatabasePath string // DATABASE_PATH: SQLite file path
	ConfigPath   string // CONFIG_PATH: config directory override
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Load applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		Port:         os.Getenv(EnvPort),
		TestRoot:     os.Getenv(EnvTestRoot),
		ArtifactRoot: os.Getenv(EnvArtifactRoot),
		DatabasePath: os.Getenv(EnvDatabasePath),
		ConfigPath:   os.Getenv(EnvConfigPath),
	}
}
