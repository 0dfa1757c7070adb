package config

// Config captures the runtime settings for the staking ledger daemon.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen"`
	Environment   string          `yaml:"env" toml:"env"`
	Log           LogConfig       `yaml:"log" toml:"log"`
	Storage       StorageConfig   `yaml:"storage" toml:"storage"`
	Journal       JournalConfig   `yaml:"journal" toml:"journal"`
	Auth          AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Staking       StakingConfig   `yaml:"staking" toml:"staking"`
	Bank          BankConfig      `yaml:"bank" toml:"bank"`
	Telemetry     TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// LogConfig tunes the structured logger.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Storage backends.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

// StorageConfig selects the key-value store holding ledger state.
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// Journal drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// JournalConfig selects the SQL database receiving the event journal.
type JournalConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// AuthConfig configures bearer token verification. The token subject is the
// caller's address.
type AuthConfig struct {
	HMACSecret    string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretEnv string   `yaml:"hmac_secret_env" toml:"hmac_secret_env"`
	Issuer        string   `yaml:"issuer" toml:"issuer"`
	Audience      string   `yaml:"audience" toml:"audience"`
	Admins        []string `yaml:"admins" toml:"admins"`
}

// RateLimitConfig bounds requests per client. A zero rate disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int `yaml:"burst" toml:"burst"`
}

// StakingConfig holds the registry settings applied at startup.
type StakingConfig struct {
	VersionTag uint64 `yaml:"version_tag" toml:"version_tag"`
	Paused     bool   `yaml:"paused" toml:"paused"`
}

// BankConfig configures the built-in balance ledger.
type BankConfig struct {
	Holder  string            `yaml:"holder" toml:"holder"`
	FeeSink string            `yaml:"fee_sink" toml:"fee_sink"`
	Faucet  bool              `yaml:"faucet" toml:"faucet"`
	FeesBps map[string]uint64 `yaml:"fees_bps" toml:"fees_bps"`
}

// TelemetryConfig wires the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled"`
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Headers     string  `yaml:"headers" toml:"headers"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}
