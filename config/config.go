package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen      = ":8090"
	defaultStoragePath = "stakeledger-data"
	defaultJournalDSN  = "stakeledger-journal.db"
	defaultEndpoint    = "localhost:4318"
	defaultRPM         = 600
)

// Load reads the configuration from disk and validates the result. Files
// ending in .toml are decoded as TOML, everything else as YAML. Unknown keys
// are rejected in both formats.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("decode config: unknown key %s", undecoded[0].String())
		}
	default:
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Secret resolves the HMAC key, preferring the named environment variable.
func (cfg AuthConfig) Secret() ([]byte, error) {
	if cfg.HMACSecretEnv != "" {
		value := strings.TrimSpace(os.Getenv(cfg.HMACSecretEnv))
		if value == "" {
			return nil, fmt.Errorf("environment variable %s is empty", cfg.HMACSecretEnv)
		}
		return []byte(value), nil
	}
	if cfg.HMACSecret == "" {
		return nil, errors.New("hmac_secret or hmac_secret_env required")
	}
	return []byte(cfg.HMACSecret), nil
}

// IsDev reports whether the daemon runs in a development environment.
func (cfg Config) IsDev() bool {
	return strings.EqualFold(cfg.Environment, "dev")
}
