// Package config implements JSON configuration loading, validation, and the
// startup-time environment/user registries for the test orchestrator. It
// supports a three-layer override chain (defaults -> app.config.json ->
// environment variables); the environment and user registries are loaded once
// at startup and treated as immutable process-wide state afterward.
package config

// Config is the effective orchestrator configuration after the override
// chain has been applied. Paths are used as given (no tilde expansion); the
// deploy script always writes absolute paths.
type Config struct {
	Port              int    `json:"port"`
	TestRoot          string `json:"testRoot"`
	ArtifactRoot      string `json:"artifactRoot"`
	DatabasePath      string `json:"databasePath"`
	MaxConcurrentRuns int    `json:"maxConcurrentRuns"`
	RetentionDays     int    `json:"retentionDays"`

	// ConfigDir is the directory the registries (environments.json,
	// users.json) are loaded from. Not part of app.config.json itself.
	ConfigDir string `json:"-"`
}

// Default values for configuration options. These are "layer 0" of the
// override chain and match what the deploy bundle assumes when no config
// file is present.
const (
	DefaultPort              = 3000
	DefaultMaxConcurrentRuns = 10
	DefaultRetentionDays     = 30

	defaultTestRoot     = "./tests"
	defaultArtifactRoot = "./artifacts"
	defaultDatabasePath = "./orchestrator.db"
	defaultConfigDir    = "./config"
)

// AppConfigFileName is the file inside the config directory holding the
// orchestrator settings.
const AppConfigFileName = "app.config.json"

// DefaultConfig returns a Config populated with all default values. It is
// used both as the starting point for JSON decoding (so unset fields retain
// defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Port:              DefaultPort,
		TestRoot:          defaultTestRoot,
		ArtifactRoot:      defaultArtifactRoot,
		DatabasePath:      defaultDatabasePath,
		MaxConcurrentRuns: DefaultMaxConcurrentRuns,
		RetentionDays:     DefaultRetentionDays,
		ConfigDir:         defaultConfigDir,
	}
}
