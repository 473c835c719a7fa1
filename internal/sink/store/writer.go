// Package store persists completed second batches to durable storage.
//
// A single Worker drains the storage dispatch queue and hands each batch to
// a Writer. Failed writes are retried without limit after a fixed delay; the
// batch stays in the pending store until a write succeeds.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/types"
)

// Writer persists one batch. Implementations must make a failed WriteBatch
// leave no partial rows behind so the batch can be written again.
type Writer interface {
	Name() string
	WriteBatch(ctx context.Context, batch *types.SecondBatch) error
	Close() error
}

// Open creates the writer selected by cfg.Kind.
func Open(ctx context.Context, cfg config.StoreConfig) (Writer, error) {
	switch cfg.Kind {
	case "duckdb":
		return OpenDuckDB(ctx, cfg.DuckDB.Path, cfg.Table)
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres.DSN, cfg.Table)
	case "parquet":
		return NewParquetWriter(cfg.Parquet.Dir, ParseCompression(cfg.Parquet.Compression))
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

// Discard accepts every batch without writing it.
type Discard struct{}

func (Discard) Name() string { return "none" }

func (Discard) WriteBatch(context.Context, *types.SecondBatch) error { return nil }

func (Discard) Close() error { return nil }

// longRow is one (timestamp, tag) cell of a batch in long format.
type longRow struct {
	ts    time.Time
	tag   string
	value types.Value
}

// flatten expands a batch into long-format cells. Rows without tags (before
// the first snapshot) have no cells.
func flatten(batch *types.SecondBatch) []longRow {
	out := make([]longRow, 0, len(batch.Rows)*4)
	for _, row := range batch.Rows {
		for _, name := range row.Tags.Names() {
			out = append(out, longRow{ts: row.Timestamp, tag: name, value: row.Tags[name]})
		}
	}
	return out
}

// columns returns the nullable num, flag and txt column values of v.
func columns(v types.Value) (num, flag, txt any) {
	switch v.Type {
	case types.ValueTypeNumber:
		return v.Num, nil, nil
	case types.ValueTypeBool:
		return nil, v.Bool, nil
	default:
		return nil, nil, v.Text
	}
}
