package grid

import (
	"sync"
	"time"

	"github.com/xtxerr/gridrelay/internal/types"
)

// MinuteCounter assigns batch keys: the wall-clock minute label plus a
// sequence id that restarts at 1 whenever the label changes.
type MinuteCounter struct {
	mu     sync.Mutex
	minute string
	sid    int
}

// Next returns the key for a batch emitted at now.
func (c *MinuteCounter) Next(now time.Time) types.BatchKey {
	label := now.Format(types.MinuteLayout)

	c.mu.Lock()
	defer c.mu.Unlock()

	if label != c.minute {
		c.minute = label
		c.sid = 0
	}
	c.sid++
	return types.BatchKey{Minute: c.minute, SID: c.sid}
}
