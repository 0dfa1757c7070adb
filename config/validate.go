package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const maxFeeBps = 10_000

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	if cfg.Log.File != "" && cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	cfg.Storage.normalize()
	cfg.Journal.normalize()
	cfg.Auth.normalize()
	cfg.RateLimit.normalize()
	cfg.Bank.normalize()
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = defaultEndpoint
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	if err := cfg.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := cfg.Journal.validate(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := cfg.RateLimit.validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if err := cfg.Bank.validate(); err != nil {
		return fmt.Errorf("bank: %w", err)
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: sample_ratio %v outside [0,1]", r)
	}
	if cfg.Bank.Faucet && !cfg.IsDev() {
		return fmt.Errorf("bank: faucet is restricted to env=dev")
	}
	return nil
}

func (cfg *StorageConfig) normalize() {
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = BackendLevelDB
	}
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Path == "" && cfg.Backend != BackendMemory {
		cfg.Path = defaultStoragePath
	}
}

func (cfg StorageConfig) validate() error {
	switch cfg.Backend {
	case BackendLevelDB, BackendBolt, BackendMemory:
		return nil
	default:
		return fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

func (cfg *JournalConfig) normalize() {
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DSN == "" && cfg.Driver == DriverSQLite {
		cfg.DSN = defaultJournalDSN
	}
}

func (cfg JournalConfig) validate() error {
	switch cfg.Driver {
	case DriverSQLite, DriverNone:
		return nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return fmt.Errorf("dsn required for postgres")
		}
		return nil
	default:
		return fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

// Enabled reports whether events are journaled.
func (cfg JournalConfig) Enabled() bool {
	return cfg.Driver != DriverNone
}

func (cfg *AuthConfig) normalize() {
	cfg.HMACSecretEnv = strings.TrimSpace(cfg.HMACSecretEnv)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	admins := make([]string, 0, len(cfg.Admins))
	for _, admin := range cfg.Admins {
		if trimmed := strings.TrimSpace(admin); trimmed != "" {
			admins = append(admins, trimmed)
		}
	}
	cfg.Admins = admins
}

func (cfg AuthConfig) validate() error {
	if _, err := cfg.Secret(); err != nil {
		return err
	}
	if _, err := cfg.AdminAddresses(); err != nil {
		return err
	}
	return nil
}

// AdminAddresses parses the configured administrator addresses.
func (cfg AuthConfig) AdminAddresses() ([]common.Address, error) {
	out := make([]common.Address, 0, len(cfg.Admins))
	for _, admin := range cfg.Admins {
		addr, err := parseAddress(admin)
		if err != nil {
			return nil, fmt.Errorf("admins: %w", err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func (cfg *RateLimitConfig) normalize() {
	if cfg.RequestsPerMinute == 0 && cfg.Burst == 0 {
		cfg.RequestsPerMinute = defaultRPM
	}
	if cfg.RequestsPerMinute > 0 && cfg.Burst == 0 {
		cfg.Burst = cfg.RequestsPerMinute / 10
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
}

func (cfg RateLimitConfig) validate() error {
	if cfg.RequestsPerMinute < 0 || cfg.Burst < 0 {
		return fmt.Errorf("values must not be negative")
	}
	return nil
}

func (cfg *BankConfig) normalize() {
	cfg.Holder = strings.TrimSpace(cfg.Holder)
	cfg.FeeSink = strings.TrimSpace(cfg.FeeSink)
	if len(cfg.FeesBps) == 0 {
		return
	}
	fees := make(map[string]uint64, len(cfg.FeesBps))
	for asset, bps := range cfg.FeesBps {
		fees[strings.ToUpper(strings.TrimSpace(asset))] = bps
	}
	cfg.FeesBps = fees
}

func (cfg BankConfig) validate() error {
	if _, err := parseAddress(cfg.Holder); err != nil {
		return fmt.Errorf("holder: %w", err)
	}
	if cfg.FeeSink != "" {
		if _, err := parseAddress(cfg.FeeSink); err != nil {
			return fmt.Errorf("fee_sink: %w", err)
		}
	}
	for asset, bps := range cfg.FeesBps {
		if asset == "" {
			return fmt.Errorf("fees_bps: empty asset")
		}
		if bps > maxFeeBps {
			return fmt.Errorf("fees_bps: %s fee %d exceeds %d", asset, bps, maxFeeBps)
		}
	}
	return nil
}

// HolderAddress returns the account holding pooled funds.
func (cfg BankConfig) HolderAddress() common.Address {
	addr, _ := parseAddress(cfg.Holder)
	return addr
}

// FeeSinkAddress returns the fee recipient, defaulting to the holder.
func (cfg BankConfig) FeeSinkAddress() common.Address {
	if cfg.FeeSink == "" {
		return cfg.HolderAddress()
	}
	addr, _ := parseAddress(cfg.FeeSink)
	return addr
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", raw)
	}
	return common.HexToAddress(raw), nil
}
