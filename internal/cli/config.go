package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/tally/internal/paths"
	"github.com/mesh-intelligence/tally/pkg/types"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config keys in config.yaml.
const (
	cfgKeyBackend      = "backend"
	cfgKeyDataDir      = "data_dir"
	cfgKeyDSN          = "dsn"
	cfgKeySyncStrategy = "sync_strategy"
	cfgKeyLogMode      = "log_mode"
	cfgKeyLogLevel     = "log_level"
)

// configFile is the structure written to config.yaml on first run.
type configFile struct {
	Backend      string `yaml:"backend"`
	DataDir      string `yaml:"data_dir,omitempty"`
	DSN          string `yaml:"dsn,omitempty"`
	SyncStrategy string `yaml:"sync_strategy"`
	LogMode      string `yaml:"log_mode"`
	LogLevel     string `yaml:"log_level"`
}

var defaultConfig = configFile{
	Backend:      types.BackendSQLite,
	SyncStrategy: types.SyncImmediate,
	LogMode:      "dev",
	LogLevel:     "warn",
}

// loadConfig reads config.yaml from configDir, creating the directory and a
// default file on first run. TALLY_BACKEND and TALLY_DSN override the file.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	if err := writeConfigIfMissing(filepath.Join(configDir, paths.ConfigFileName)); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, defaultConfig.Backend)
	v.SetDefault(cfgKeySyncStrategy, defaultConfig.SyncStrategy)
	v.SetDefault(cfgKeyLogMode, defaultConfig.LogMode)
	v.SetDefault(cfgKeyLogLevel, defaultConfig.LogLevel)
	_ = v.BindEnv(cfgKeyBackend, "TALLY_BACKEND")
	_ = v.BindEnv(cfgKeyDSN, "TALLY_DSN")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// writeConfigIfMissing creates config.yaml with default values if the file
// does not exist.
func writeConfigIfMissing(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config file: %w", err)
	}
	data, err := yaml.Marshal(&defaultConfig)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, append([]byte("# tally configuration\n"), data...), 0o644)
}

// storageConfig builds the storage configuration from v, resolving the data
// directory against the --data-dir flag.
func storageConfig(v *viper.Viper, dataDirFlag string) (types.Config, error) {
	cfg := types.Config{
		Backend:      v.GetString(cfgKeyBackend),
		DSN:          v.GetString(cfgKeyDSN),
		SyncStrategy: v.GetString(cfgKeySyncStrategy),
	}
	if cfg.Backend == types.BackendSQLite {
		dir, err := paths.ResolveDataDir(dataDirFlag, v.GetString(cfgKeyDataDir))
		if err != nil {
			return cfg, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
