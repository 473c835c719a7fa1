// Package backpressure tracks how close the raw snapshot ring is to
// overflowing. The ring itself never blocks the producer; the level is a
// diagnostic for the status report and metrics.
package backpressure

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/logging"
)

// Level represents the current pressure level.
type Level int

const (
	// LevelNormal - aggregator keeps up with acquisition.
	LevelNormal Level = iota

	// LevelWarning - the ring is filling faster than it drains.
	LevelWarning

	// LevelCritical - the aggregator is falling behind.
	LevelCritical

	// LevelEmergency - the ring is about to drop the oldest snapshots.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Gauge reports buffer usage as a ratio (0.0 - 1.0).
type Gauge interface {
	UsageRatio() float64
}

// Controller derives a pressure level from buffer usage with hysteresis.
type Controller struct {
	mu sync.Mutex

	cfg   config.PressureConfig
	gauge Gauge
	log   *slog.Logger

	level     atomic.Int32
	lastLevel Level

	stats Stats

	onLevelChange func(old, new Level)
}

// Stats holds controller statistics.
type Stats struct {
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
}

// New creates a new pressure controller.
func New(cfg config.PressureConfig, gauge Gauge) *Controller {
	return &Controller{
		cfg:   cfg,
		gauge: gauge,
		log:   logging.Component("backpressure"),
	}
}

// SetOnLevelChange sets the callback for level changes.
func (c *Controller) SetOnLevelChange(fn func(old, new Level)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Check evaluates current usage and updates the level.
// This should be called periodically.
func (c *Controller) Check() Level {
	c.mu.Lock()
	defer c.mu.Unlock()

	usage := c.gauge.UsageRatio()
	newLevel := c.determineLevel(usage)

	if newLevel != c.lastLevel {
		c.setLevel(newLevel, usage)
	}

	return newLevel
}

// determineLevel determines the level based on usage.
func (c *Controller) determineLevel(usage float64) Level {
	th := c.cfg

	// Going up
	if usage >= th.Emergency {
		return LevelEmergency
	}
	if usage >= th.Critical {
		return LevelCritical
	}
	if usage >= th.Warning {
		return LevelWarning
	}

	// Going down - one level per check, below threshold minus hysteresis
	switch c.lastLevel {
	case LevelEmergency:
		if usage < th.Emergency-th.Hysteresis {
			return LevelCritical
		}
		return LevelEmergency
	case LevelCritical:
		if usage < th.Critical-th.Hysteresis {
			return LevelWarning
		}
		return LevelCritical
	case LevelWarning:
		if usage < th.Warning-th.Hysteresis {
			return LevelNormal
		}
		return LevelWarning
	default:
		return LevelNormal
	}
}

// setLevel must be called with mu held.
func (c *Controller) setLevel(newLevel Level, usage float64) {
	oldLevel := c.lastLevel
	c.lastLevel = newLevel
	c.level.Store(int32(newLevel))
	c.stats.LevelChanges++

	switch newLevel {
	case LevelWarning:
		c.stats.WarningCount++
	case LevelCritical:
		c.stats.CriticalCount++
	case LevelEmergency:
		c.stats.EmergencyCount++
	}

	if newLevel > oldLevel {
		c.log.Warn("raw buffer pressure rising", "from", oldLevel, "to", newLevel, "usage", usage)
	} else {
		c.log.Info("raw buffer pressure easing", "from", oldLevel, "to", newLevel, "usage", usage)
	}

	if c.onLevelChange != nil {
		c.onLevelChange(oldLevel, newLevel)
	}
}

// CurrentLevel returns the current level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// Stats returns current statistics.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
