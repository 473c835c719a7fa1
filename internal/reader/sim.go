package reader

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/types"
)

var simRecipes = []string{"R-100", "R-200", "R-300"}

// SimReader produces synthetic snapshots at an irregular cadence, for
// development and load tests without a controller.
type SimReader struct {
	period time.Duration
	jitter time.Duration
	tags   []config.SimTag
	start  time.Time
	now    func() time.Time
}

// NewSim creates a synthetic reader.
func NewSim(cfg config.SimConfig) *SimReader {
	return &SimReader{
		period: cfg.Period,
		jitter: cfg.Jitter,
		tags:   cfg.Tags,
		start:  time.Now(),
		now:    time.Now,
	}
}

// Acquire waits period±jitter and returns the signals at that instant.
func (r *SimReader) Acquire(ctx context.Context) (types.Snapshot, error) {
	if len(r.tags) == 0 {
		return types.Snapshot{}, errors.ErrNoTags
	}

	if d := r.delay(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return types.Snapshot{}, fmt.Errorf("%w: %w", errors.ErrAcquireFailed, ctx.Err())
		case <-t.C:
		}
	}

	now := r.now()
	return types.Snapshot{Timestamp: now, Tags: r.values(now)}, nil
}

func (r *SimReader) delay() time.Duration {
	d := r.period
	if r.jitter > 0 {
		d += time.Duration(rand.Int64N(int64(2*r.jitter))) - r.jitter
	}
	return d
}

// values computes every signal at now. Ramps rise by one per second and wrap
// at 100, squares toggle every second, texts cycle every ten seconds.
func (r *SimReader) values(now time.Time) types.Tags {
	elapsed := now.Sub(r.start)
	tags := make(types.Tags, len(r.tags))
	for _, tag := range r.tags {
		switch tag.Kind {
		case "square":
			tags[tag.Name] = types.Bool(int64(elapsed/time.Second)%2 == 1)
		case "text":
			tags[tag.Name] = types.Text(simRecipes[int64(elapsed/(10*time.Second))%int64(len(simRecipes))])
		default:
			sec := elapsed.Seconds()
			tags[tag.Name] = types.Number(sec - 100*float64(int64(sec/100)))
		}
	}
	return tags
}

// Close is a no-op.
func (r *SimReader) Close() error { return nil }
