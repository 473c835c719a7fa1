// Package reader acquires tag snapshots from the controller.
//
// A Reader returns one complete Snapshot per Acquire call. Readers are used
// from a single goroutine.
package reader

import (
	"context"
	"fmt"

	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/types"
)

// Reader acquires snapshots. Every implementation stamps the snapshot with
// the local wall-clock time at which the request was issued, before any
// network round trip, so grid alignment does not depend on the backend.
type Reader interface {
	Acquire(ctx context.Context) (types.Snapshot, error)
	Close() error
}

// Open creates the reader selected by cfg.Kind.
func Open(ctx context.Context, cfg config.ReaderConfig) (Reader, error) {
	switch cfg.Kind {
	case "snmp":
		return NewSNMP(cfg.SNMP)
	case "opcua":
		return NewOPCUA(ctx, cfg.OPCUA)
	case "sim":
		return NewSim(cfg.Sim), nil
	default:
		return nil, fmt.Errorf("unknown reader kind %q", cfg.Kind)
	}
}
