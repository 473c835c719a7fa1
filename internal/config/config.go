// Package config loads and validates the gridrelay daemon configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// GRIDRELAY_ environment variables ("__" separates nesting levels, e.g.
// GRIDRELAY_API__BASE_DELAY=1s).
package config

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	defaults "github.com/xtxerr/gridrelay/config"
	"github.com/xtxerr/gridrelay/internal/errors"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "GRIDRELAY_"

// Config represents the complete daemon configuration.
type Config struct {
	// Grid configures the resampling grid.
	Grid GridConfig `yaml:"grid"`

	// Reader configures snapshot acquisition.
	Reader ReaderConfig `yaml:"reader"`

	// Queues sizes the raw ring and the dispatch queues.
	Queues QueueConfig `yaml:"queues"`

	// Store configures the durable storage sink.
	Store StoreConfig `yaml:"store"`

	// API configures the remote HTTP sink.
	API APIConfig `yaml:"api"`

	// Reaper configures pending store cleanup and status reports.
	Reaper ReaperConfig `yaml:"reaper"`

	// Watchdog configures liveness supervision.
	Watchdog WatchdogConfig `yaml:"watchdog"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configures the global logger.
	Logging LoggingConfig `yaml:"logging"`
}

// GridConfig configures the resampling grid.
type GridConfig struct {
	// Interval is the row spacing. Must divide one second.
	Interval time.Duration `yaml:"interval"`

	// Poll is the aggregator's wait for new snapshots.
	Poll time.Duration `yaml:"poll"`
}

// Rows returns the number of grid rows per one-second batch.
func (g GridConfig) Rows() int {
	if g.Interval <= 0 {
		return 0
	}
	return int(time.Second / g.Interval)
}

// ReaderConfig configures snapshot acquisition.
type ReaderConfig struct {
	// Kind selects the reader: snmp, opcua, sim.
	Kind string `yaml:"kind"`

	// RetryDelay is the pause after a failed acquisition.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ErrorLogInterval limits repeated failure logs.
	ErrorLogInterval time.Duration `yaml:"error_log_interval"`

	// MaxRate caps acquisitions per second. 0 disables the limit.
	MaxRate float64 `yaml:"max_rate"`

	// Burst is the limiter burst when MaxRate is set.
	Burst int `yaml:"burst"`

	SNMP  SNMPConfig  `yaml:"snmp"`
	OPCUA OPCUAConfig `yaml:"opcua"`
	Sim   SimConfig   `yaml:"sim"`
}

// SNMPConfig configures the SNMP reader.
type SNMPConfig struct {
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`

	// v2c
	Community string `yaml:"community"`

	// v3
	SecurityName  string `yaml:"security_name"`
	SecurityLevel string `yaml:"security_level"`
	AuthProtocol  string `yaml:"auth_protocol"`
	AuthPassword  string `yaml:"auth_password"`
	PrivProtocol  string `yaml:"priv_protocol"`
	PrivPassword  string `yaml:"priv_password"`
	ContextName   string `yaml:"context_name"`

	// Timing
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`

	Tags []SNMPTag `yaml:"tags"`
}

// SNMPTag maps a tag name to an OID.
type SNMPTag struct {
	Name string `yaml:"name"`
	OID  string `yaml:"oid"`
}

// OPCUAConfig configures the OPC-UA reader.
type OPCUAConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	Timeout         time.Duration `yaml:"timeout"`
	Tags            []OPCUATag    `yaml:"tags"`
}

// OPCUATag maps a tag name to a node id.
type OPCUATag struct {
	Name   string `yaml:"name"`
	NodeID string `yaml:"node_id"`
}

// SimConfig configures the synthetic reader.
type SimConfig struct {
	// Period is the pause between synthetic snapshots.
	Period time.Duration `yaml:"period"`

	// Jitter randomizes Period by up to this amount.
	Jitter time.Duration `yaml:"jitter"`

	Tags []SimTag `yaml:"tags"`
}

// SimTag is one synthetic signal.
type SimTag struct {
	Name string `yaml:"name"`

	// Kind is ramp, square or text.
	Kind string `yaml:"kind"`
}

// QueueConfig sizes the queues.
type QueueConfig struct {
	Raw   int `yaml:"raw"`
	Store int `yaml:"store"`
	API   int `yaml:"api"`

	// Pressure configures raw ring pressure levels.
	Pressure PressureConfig `yaml:"pressure"`
}

// PressureConfig defines raw ring usage thresholds (0.0-1.0).
type PressureConfig struct {
	Warning    float64 `yaml:"warning"`
	Critical   float64 `yaml:"critical"`
	Emergency  float64 `yaml:"emergency"`
	Hysteresis float64 `yaml:"hysteresis"`
}

// StoreConfig configures the durable storage sink.
type StoreConfig struct {
	// Kind is duckdb, postgres, parquet or none.
	Kind string `yaml:"kind"`

	// RetryDelay is the pause before a failed write is retried.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Table is the destination table for SQL backends.
	Table string `yaml:"table"`

	DuckDB   DuckDBConfig   `yaml:"duckdb"`
	Postgres PostgresConfig `yaml:"postgres"`
	Parquet  ParquetConfig  `yaml:"parquet"`
}

// DuckDBConfig configures the duckdb backend.
type DuckDBConfig struct {
	// Path is the database file. Empty means in-memory.
	Path string `yaml:"path"`
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// ParquetConfig configures the parquet backend.
type ParquetConfig struct {
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"`
}

// APIConfig configures the remote HTTP sink.
type APIConfig struct {
	// Enabled turns the sink on. When off batches are marked delivered.
	Enabled bool `yaml:"enabled"`

	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	Workers     int           `yaml:"workers"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Timeout     time.Duration `yaml:"timeout"`

	// Encoding is json or protobuf.
	Encoding string `yaml:"encoding"`

	// Gzip compresses request bodies.
	Gzip bool `yaml:"gzip"`

	// LastGoodPath is the last-known-good artifact. Empty disables it.
	LastGoodPath string `yaml:"last_good_path"`
}

// ReaperConfig configures pending store cleanup.
type ReaperConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// WatchdogConfig configures liveness supervision.
type WatchdogConfig struct {
	Interval       time.Duration `yaml:"interval"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
	MaxStrikes     int           `yaml:"max_strikes"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load layers the YAML file at path (optional) and GRIDRELAY_ environment
// variables over DefaultConfig and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills list values that cannot be pre-seeded in DefaultConfig
// without the decoder merging them with file entries.
func applyDefaults(c *Config) {
	if c.Reader.Kind == "sim" && len(c.Reader.Sim.Tags) == 0 {
		c.Reader.Sim.Tags = DefaultSimTags()
	}
}

// DefaultSimTags returns the synthetic signals used when none are configured.
func DefaultSimTags() []SimTag {
	return []SimTag{
		{Name: "line_speed", Kind: "ramp"},
		{Name: "motor_running", Kind: "square"},
		{Name: "recipe", Kind: "text"},
	}
}

// envKey maps GRIDRELAY_API__BASE_DELAY to api.base_delay.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Exists reports whether path names a readable config file.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yamlv3.Marshal(c)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Grid: GridConfig{
			Interval: defaults.DefaultGridInterval,
			Poll:     defaults.DefaultAggregatorPoll,
		},
		Reader: ReaderConfig{
			Kind:             defaults.DefaultReaderKind,
			RetryDelay:       defaults.DefaultReaderRetryDelay,
			ErrorLogInterval: defaults.DefaultReaderErrorLogInterval,
			Burst:            1,
			SNMP: SNMPConfig{
				Port:    defaults.DefaultSNMPPort,
				Timeout: defaults.DefaultSNMPTimeout,
				Retries: defaults.DefaultSNMPRetries,
			},
			OPCUA: OPCUAConfig{
				SecurityMode:    "None",
				SecurityPolicy:  "None",
				ApplicationName: "gridrelay",
				Timeout:         defaults.DefaultOPCUATimeout,
			},
			Sim: SimConfig{
				Period: 7 * time.Millisecond,
				Jitter: 5 * time.Millisecond,
			},
		},
		Queues: QueueConfig{
			Raw:   defaults.DefaultRawQueueSize,
			Store: defaults.DefaultStoreQueueSize,
			API:   defaults.DefaultAPIQueueSize,
			Pressure: PressureConfig{
				Warning:    0.50,
				Critical:   0.80,
				Emergency:  0.95,
				Hysteresis: 0.10,
			},
		},
		Store: StoreConfig{
			Kind:       defaults.DefaultStoreKind,
			RetryDelay: defaults.DefaultStoreRetryDelay,
			Table:      defaults.DefaultStoreTable,
			DuckDB:     DuckDBConfig{Path: defaults.DefaultDuckDBPath},
			Parquet: ParquetConfig{
				Dir:         defaults.DefaultParquetDir,
				Compression: defaults.DefaultParquetCompression,
			},
		},
		API: APIConfig{
			Enabled:      true,
			URL:          "http://127.0.0.1:8080/api/grid",
			Workers:      defaults.DefaultAPIWorkers,
			MaxAttempts:  defaults.DefaultAPIMaxAttempts,
			BaseDelay:    defaults.DefaultAPIBaseDelay,
			MaxDelay:     defaults.DefaultAPIMaxDelay,
			Timeout:      defaults.DefaultAPITimeout,
			Encoding:     defaults.DefaultAPIEncoding,
			LastGoodPath: defaults.DefaultLastGoodPath,
		},
		Reaper: ReaperConfig{
			Interval:       defaults.DefaultReapInterval,
			ReportInterval: defaults.DefaultReportInterval,
		},
		Watchdog: WatchdogConfig{
			Interval:       defaults.DefaultWatchdogInterval,
			StallThreshold: defaults.DefaultStallThreshold,
			MaxStrikes:     defaults.DefaultMaxStrikes,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    defaults.DefaultMetricsAddr,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
