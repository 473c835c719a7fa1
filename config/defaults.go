// Package config provides configuration defaults for the gridrelay daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or GRIDRELAY_ environment
// variables.
package config

import "time"

// =============================================================================
// Grid Defaults
// =============================================================================

const (
	// DefaultGridInterval is the spacing of resampled rows inside a second.
	// Must divide one second evenly; 20ms yields 50 rows per batch.
	// Override via config: grid.interval
	DefaultGridInterval = 20 * time.Millisecond

	// DefaultAggregatorPoll is how long the aggregator waits for new raw
	// snapshots before re-checking the wall clock.
	// Override via config: grid.poll
	DefaultAggregatorPoll = time.Millisecond
)

// =============================================================================
// Reader Defaults
// =============================================================================

const (
	// DefaultReaderKind selects the controller reader.
	// One of: snmp, opcua, sim
	// Override via config: reader.kind
	DefaultReaderKind = "sim"

	// DefaultReaderRetryDelay is the pause after a failed acquisition.
	// Override via config: reader.retry_delay
	DefaultReaderRetryDelay = time.Millisecond

	// DefaultReaderErrorLogInterval limits how often repeated acquisition
	// failures are logged.
	// Override via config: reader.error_log_interval
	DefaultReaderErrorLogInterval = 5 * time.Second

	// DefaultSNMPPort is the agent UDP port.
	// Override via config: reader.snmp.port
	DefaultSNMPPort = 161

	// DefaultSNMPTimeout is the timeout for a single SNMP request.
	// Override via config: reader.snmp.timeout
	DefaultSNMPTimeout = 500 * time.Millisecond

	// DefaultSNMPRetries is the number of retry attempts after timeout.
	// Override via config: reader.snmp.retries
	DefaultSNMPRetries = 0

	// DefaultOPCUATimeout bounds one OPC-UA read request.
	// Override via config: reader.opcua.timeout
	DefaultOPCUATimeout = time.Second
)

// =============================================================================
// Queue Defaults
// =============================================================================

const (
	// DefaultRawQueueSize is the raw snapshot ring capacity.
	// When full the oldest snapshot is dropped.
	// Override via config: queues.raw
	DefaultRawQueueSize = 8000

	// DefaultStoreQueueSize is the storage dispatch queue capacity.
	// When full the aggregator blocks.
	// Override via config: queues.store
	DefaultStoreQueueSize = 1024

	// DefaultAPIQueueSize is the API dispatch queue capacity.
	// Override via config: queues.api
	DefaultAPIQueueSize = 1024
)

// =============================================================================
// Storage Sink Defaults
// =============================================================================

const (
	// DefaultStoreKind selects the durable store backend.
	// One of: duckdb, postgres, parquet, none
	// Override via config: store.kind
	DefaultStoreKind = "duckdb"

	// DefaultStoreRetryDelay is the pause before a failed batch write is retried.
	// Writes are retried without limit.
	// Override via config: store.retry_delay
	DefaultStoreRetryDelay = 500 * time.Millisecond

	// DefaultStoreTable is the table written by the SQL backends.
	// Override via config: store.table
	DefaultStoreTable = "grid_rows"

	// DefaultDuckDBPath is the database file for the duckdb backend.
	// Override via config: store.duckdb.path
	DefaultDuckDBPath = "gridrelay.duckdb"

	// DefaultParquetDir is the output directory for the parquet backend.
	// Override via config: store.parquet.dir
	DefaultParquetDir = "data"

	// DefaultParquetCompression is the parquet column codec.
	// Override via config: store.parquet.compression
	DefaultParquetCompression = "zstd"
)

// =============================================================================
// API Sink Defaults
// =============================================================================

const (
	// DefaultAPIWorkers is the number of concurrent API senders.
	// Override via config: api.workers
	DefaultAPIWorkers = 2

	// DefaultAPIMaxAttempts is the delivery attempt limit per batch.
	// Exhausting it requests a process restart.
	// Override via config: api.max_attempts
	DefaultAPIMaxAttempts = 5

	// DefaultAPIBaseDelay is the first backoff step.
	// Override via config: api.base_delay
	DefaultAPIBaseDelay = 500 * time.Millisecond

	// DefaultAPIMaxDelay caps the exponential backoff.
	// Override via config: api.max_delay
	DefaultAPIMaxDelay = 10 * time.Second

	// DefaultAPITimeout bounds a single POST.
	// Override via config: api.timeout
	DefaultAPITimeout = 5 * time.Second

	// DefaultAPIEncoding is the request body format.
	// One of: json, protobuf
	// Override via config: api.encoding
	DefaultAPIEncoding = "json"

	// DefaultLastGoodPath is where the last-known-good delivery is recorded.
	// Override via config: api.last_good_path
	DefaultLastGoodPath = "last_sec/lastsec.json"

	// DefaultMaxResponseBytes caps the response body kept as raw response.
	DefaultMaxResponseBytes = 64 * 1024
)

// =============================================================================
// Reaper / Watchdog Defaults
// =============================================================================

const (
	// DefaultReapInterval is how often completed batches are removed.
	// Override via config: reaper.interval
	DefaultReapInterval = 500 * time.Millisecond

	// DefaultReportInterval is how often the status line is logged.
	// Override via config: reaper.report_interval
	DefaultReportInterval = 5 * time.Second

	// DefaultWatchdogInterval is the liveness check period.
	// Override via config: watchdog.interval
	DefaultWatchdogInterval = 10 * time.Second

	// DefaultStallThreshold is the staleness that counts as a strike.
	// Override via config: watchdog.stall_threshold
	DefaultStallThreshold = 10 * time.Second

	// DefaultMaxStrikes is the number of consecutive strikes before restart.
	// Override via config: watchdog.max_strikes
	DefaultMaxStrikes = 3
)

// =============================================================================
// Metrics Defaults
// =============================================================================

const (
	// DefaultMetricsAddr serves /metrics and /healthz.
	// Override via config: metrics.addr
	DefaultMetricsAddr = ":9100"
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout is how long a graceful stop waits for workers.
	// After this timeout, remaining work is abandoned.
	DefaultDrainTimeout = 10 * time.Second
)
