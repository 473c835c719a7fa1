package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/logging"
	"github.com/xtxerr/gridrelay/internal/validation"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	errs := errors.NewValidationErrors()

	errs.Add(errors.Wrap(c.Grid.Validate(), "grid"))
	errs.Add(errors.Wrap(c.Reader.Validate(), "reader"))
	errs.Add(errors.Wrap(c.Queues.Validate(), "queues"))
	errs.Add(errors.Wrap(c.Store.Validate(), "store"))
	errs.Add(errors.Wrap(c.API.Validate(), "api"))
	errs.Add(errors.Wrap(c.Reaper.Validate(), "reaper"))
	errs.Add(errors.Wrap(c.Watchdog.Validate(), "watchdog"))
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs.Add(fmt.Errorf("metrics: %w", errors.NewMissingField("addr")))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs.Add(fmt.Errorf("logging: %w", errors.NewValidation("level", err.Error())))
	}

	return errs.Err()
}

// Validate checks the grid configuration.
func (c *GridConfig) Validate() error {
	errs := errors.NewValidationErrors()

	if c.Interval <= 0 {
		errs.AddField("interval", "must be positive")
	} else if time.Second%c.Interval != 0 {
		errs.Add(errors.NewInvalidValue("interval", c.Interval, "must divide one second"))
	}
	if c.Poll <= 0 {
		errs.AddField("poll", "must be positive")
	}

	return errs.Err()
}

// Validate checks the reader configuration.
func (c *ReaderConfig) Validate() error {
	errs := errors.NewValidationErrors()

	if c.RetryDelay <= 0 {
		errs.AddField("retry_delay", "must be positive")
	}
	if c.MaxRate < 0 {
		errs.AddField("max_rate", "must not be negative")
	}
	if c.MaxRate > 0 && c.Burst < 1 {
		errs.AddField("burst", "must be at least 1 when max_rate is set")
	}

	switch c.Kind {
	case "snmp":
		if c.SNMP.Host == "" {
			errs.AddMissing("snmp.host")
		}
		if c.SNMP.SecurityName == "" && c.SNMP.Community == "" {
			errs.AddField("snmp.community", "v2c requires a community string")
		}
		if len(c.SNMP.Tags) == 0 {
			errs.AddMissing("snmp.tags")
		}
		seen := make(map[string]bool)
		for i, tag := range c.SNMP.Tags {
			if err := validation.ValidateTagName(tag.Name); err != nil {
				errs.Add(errors.NewInvalidValue(fmt.Sprintf("snmp.tags[%d].name", i), tag.Name, err.Error()))
			}
			if err := validation.ValidateOID(tag.OID); err != nil {
				errs.Add(errors.NewInvalidValue(fmt.Sprintf("snmp.tags[%d].oid", i), tag.OID, err.Error()))
			}
			if seen[tag.Name] {
				errs.Add(errors.NewInvalidValue("snmp.tags.name", tag.Name, "duplicate"))
			}
			seen[tag.Name] = true
		}
	case "opcua":
		if c.OPCUA.Endpoint == "" {
			errs.AddMissing("opcua.endpoint")
		}
		if len(c.OPCUA.Tags) == 0 {
			errs.AddMissing("opcua.tags")
		}
		seen := make(map[string]bool)
		for i, tag := range c.OPCUA.Tags {
			if err := validation.ValidateTagName(tag.Name); err != nil {
				errs.Add(errors.NewInvalidValue(fmt.Sprintf("opcua.tags[%d].name", i), tag.Name, err.Error()))
			}
			if tag.NodeID == "" {
				errs.AddMissing(fmt.Sprintf("opcua.tags[%d].node_id", i))
			} else if err := validation.ValidateNodeID(tag.NodeID); err != nil {
				errs.Add(errors.NewInvalidValue(fmt.Sprintf("opcua.tags[%d].node_id", i), tag.NodeID, err.Error()))
			}
			if seen[tag.Name] {
				errs.Add(errors.NewInvalidValue("opcua.tags.name", tag.Name, "duplicate"))
			}
			seen[tag.Name] = true
		}
	case "sim":
		if c.Sim.Period < 0 || c.Sim.Jitter < 0 {
			errs.AddField("sim.period", "period and jitter must not be negative")
		}
		for i, tag := range c.Sim.Tags {
			if err := validation.ValidateTagName(tag.Name); err != nil {
				errs.Add(errors.NewInvalidValue(fmt.Sprintf("sim.tags[%d].name", i), tag.Name, err.Error()))
			}
			switch tag.Kind {
			case "ramp", "square", "text":
			default:
				errs.Add(errors.NewInvalidValue(fmt.Sprintf("sim.tags[%d].kind", i), tag.Kind, "must be ramp, square or text"))
			}
		}
	default:
		errs.Add(errors.NewInvalidValue("kind", c.Kind, "must be snmp, opcua or sim"))
	}

	return errs.Err()
}

// Validate checks the queue configuration.
func (c *QueueConfig) Validate() error {
	errs := errors.NewValidationErrors()

	if c.Raw <= 0 {
		errs.AddField("raw", "must be positive")
	}
	if c.Store <= 0 {
		errs.AddField("store", "must be positive")
	}
	if c.API <= 0 {
		errs.AddField("api", "must be positive")
	}

	p := c.Pressure
	if !(0 < p.Warning && p.Warning < p.Critical && p.Critical < p.Emergency && p.Emergency <= 1) {
		errs.AddField("pressure", "thresholds must satisfy 0 < warning < critical < emergency <= 1")
	}
	if p.Hysteresis < 0 || p.Hysteresis >= p.Warning {
		errs.AddField("pressure.hysteresis", "must be in [0, warning)")
	}

	return errs.Err()
}

// Validate checks the storage sink configuration.
func (c *StoreConfig) Validate() error {
	errs := errors.NewValidationErrors()

	if c.RetryDelay <= 0 {
		errs.AddField("retry_delay", "must be positive")
	}

	switch c.Kind {
	case "duckdb", "postgres":
		if err := validation.ValidateIdentifier(c.Table); err != nil {
			errs.Add(errors.NewInvalidValue("table", c.Table, err.Error()))
		}
		if c.Kind == "postgres" && c.Postgres.DSN == "" {
			errs.AddMissing("postgres.dsn")
		}
	case "parquet":
		if c.Parquet.Dir == "" {
			errs.AddMissing("parquet.dir")
		}
		switch c.Parquet.Compression {
		case "snappy", "zstd", "lz4", "gzip", "none", "":
		default:
			errs.Add(errors.NewInvalidValue("parquet.compression", c.Parquet.Compression, "must be snappy, zstd, lz4, gzip or none"))
		}
	case "none":
	default:
		errs.Add(errors.NewInvalidValue("kind", c.Kind, "must be duckdb, postgres, parquet or none"))
	}

	return errs.Err()
}

// Validate checks the API sink configuration.
func (c *APIConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	errs := errors.NewValidationErrors()

	if c.URL == "" {
		errs.AddMissing("url")
	} else if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs.Add(errors.NewInvalidValue("url", c.URL, "must be an http or https URL"))
	}
	if c.Workers <= 0 {
		errs.AddField("workers", "must be positive")
	}
	if c.MaxAttempts < 1 {
		errs.AddField("max_attempts", "must be at least 1")
	}
	if c.BaseDelay <= 0 {
		errs.AddField("base_delay", "must be positive")
	}
	if c.MaxDelay < c.BaseDelay {
		errs.AddField("max_delay", "must not be below base_delay")
	}
	if c.Timeout <= 0 {
		errs.AddField("timeout", "must be positive")
	}
	switch c.Encoding {
	case "json", "protobuf":
	default:
		errs.Add(errors.NewInvalidValue("encoding", c.Encoding, "must be json or protobuf"))
	}

	return errs.Err()
}

// Validate checks the reaper configuration.
func (c *ReaperConfig) Validate() error {
	errs := errors.NewValidationErrors()

	if c.Interval <= 0 {
		errs.AddField("interval", "must be positive")
	}
	if c.ReportInterval < c.Interval {
		errs.AddField("report_interval", "must not be below interval")
	}

	return errs.Err()
}

// Validate checks the watchdog configuration.
func (c *WatchdogConfig) Validate() error {
	errs := errors.NewValidationErrors()

	if c.Interval <= 0 {
		errs.AddField("interval", "must be positive")
	}
	if c.StallThreshold <= 0 {
		errs.AddField("stall_threshold", "must be positive")
	}
	if c.MaxStrikes < 1 {
		errs.AddField("max_strikes", "must be at least 1")
	}

	return errs.Err()
}
