package backpressure

import (
	"testing"
	"time"

	"github.com/xtxerr/gridrelay/internal/buffer"
	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/types"
)

func testConfig() config.PressureConfig {
	return config.PressureConfig{
		Warning:    0.50,
		Critical:   0.80,
		Emergency:  0.95,
		Hysteresis: 0.10,
	}
}

func fill(buf *buffer.RingBuffer, n int) {
	now := time.Now()
	for i := 0; i < n; i++ {
		buf.PushOverwrite(types.Snapshot{Timestamp: now.Add(time.Duration(i) * time.Millisecond)})
	}
}

func take(buf *buffer.RingBuffer, n int) {
	for i := 0; i < n; i++ {
		buf.Pop()
	}
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelNormal, "normal"},
		{LevelWarning, "warning"},
		{LevelCritical, "critical"},
		{LevelEmergency, "emergency"},
		{Level(42), "unknown"},
	}

	for _, tt := range tests {
		if tt.level.String() != tt.expected {
			t.Errorf("level %d: expected %s, got %s", tt.level, tt.expected, tt.level.String())
		}
	}
}

func TestController_Check(t *testing.T) {
	buf := buffer.New(100)
	c := New(testConfig(), buf)

	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected normal, got %s", level)
	}

	fill(buf, 50)
	if level := c.Check(); level != LevelWarning {
		t.Errorf("expected warning at 50%%, got %s (usage: %.2f)", level, buf.UsageRatio())
	}

	fill(buf, 30)
	if level := c.Check(); level != LevelCritical {
		t.Errorf("expected critical at 80%%, got %s (usage: %.2f)", level, buf.UsageRatio())
	}

	fill(buf, 15)
	if level := c.Check(); level != LevelEmergency {
		t.Errorf("expected emergency at 95%%, got %s (usage: %.2f)", level, buf.UsageRatio())
	}

	stats := c.Stats()
	if stats.LevelChanges != 3 || stats.EmergencyCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestController_Hysteresis(t *testing.T) {
	buf := buffer.New(100)
	c := New(testConfig(), buf)

	var changes [][2]Level
	c.SetOnLevelChange(func(old, new Level) {
		changes = append(changes, [2]Level{old, new})
	})

	fill(buf, 55)
	if level := c.Check(); level != LevelWarning {
		t.Errorf("expected warning at 55%%, got %s", level)
	}

	// 45% stays in warning (threshold - hysteresis = 40%)
	take(buf, 10)
	if level := c.Check(); level != LevelWarning {
		t.Errorf("expected warning to persist at 45%%, got %s", level)
	}

	take(buf, 10)
	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected normal at 35%%, got %s", level)
	}

	if len(changes) != 2 || changes[1] != [2]Level{LevelWarning, LevelNormal} {
		t.Errorf("unexpected level changes: %v", changes)
	}
	if c.CurrentLevel() != LevelNormal {
		t.Errorf("expected current level normal, got %s", c.CurrentLevel())
	}
}
