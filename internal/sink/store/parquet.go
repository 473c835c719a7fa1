package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/types"
)

// ParquetRow is one long-format cell in a batch file.
type ParquetRow struct {
	TimestampMs int64    `parquet:"ts_ms"`
	Minute      string   `parquet:"minute,dict"`
	SID         int32    `parquet:"sid"`
	Tag         string   `parquet:"tag,dict"`
	Num         *float64 `parquet:"num,optional"`
	Flag        *bool    `parquet:"flag,optional"`
	Text        *string  `parquet:"txt,optional"`
}

// ParseCompression maps a codec name to a parquet-go codec. Unknown names
// select zstd.
func ParseCompression(s string) compress.Codec {
	switch s {
	case "snappy":
		return &parquet.Snappy
	case "lz4":
		return &parquet.Lz4Raw
	case "gzip":
		return &parquet.Gzip
	case "none":
		return &parquet.Uncompressed
	default:
		return &parquet.Zstd
	}
}

// ParquetWriter writes one file per batch under dir, named after the batch
// window: <dir>/<yyyy-mm-dd>/<hh-mm-ss>.parquet. Files are written to a
// temporary name and renamed, so a retried batch replaces its file.
type ParquetWriter struct {
	dir   string
	codec compress.Codec
}

// NewParquetWriter creates dir if needed.
func NewParquetWriter(dir string, codec compress.Codec) (*ParquetWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return &ParquetWriter{dir: dir, codec: codec}, nil
}

func (w *ParquetWriter) Name() string { return "parquet" }

// Path returns the file batch is written to.
func (w *ParquetWriter) Path(batch *types.SecondBatch) string {
	start := batch.Start
	if start.IsZero() && len(batch.Rows) > 0 {
		start = batch.Rows[0].Timestamp
	}
	return filepath.Join(w.dir, start.Format("2006-01-02"), start.Format("15-04-05")+".parquet")
}

// WriteBatch writes the batch file.
func (w *ParquetWriter) WriteBatch(_ context.Context, batch *types.SecondBatch) error {
	path := w.Path(batch)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: create directory: %w", errors.ErrSinkWrite, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".batch-*.parquet")
	if err != nil {
		return fmt.Errorf("%w: create file: %w", errors.ErrSinkWrite, err)
	}
	tmpPath := tmp.Name()

	if err := w.encode(tmp, batch); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %w", errors.ErrSinkWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close file: %w", errors.ErrSinkWrite, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename: %w", errors.ErrSinkWrite, err)
	}
	return nil
}

func (w *ParquetWriter) encode(f *os.File, batch *types.SecondBatch) error {
	cells := flatten(batch)
	rows := make([]ParquetRow, len(cells))
	for i, c := range cells {
		rows[i] = ParquetRow{
			TimestampMs: c.ts.UnixMilli(),
			Minute:      batch.Key.Minute,
			SID:         int32(batch.Key.SID),
			Tag:         c.tag,
		}
		switch c.value.Type {
		case types.ValueTypeNumber:
			v := c.value.Num
			rows[i].Num = &v
		case types.ValueTypeBool:
			v := c.value.Bool
			rows[i].Flag = &v
		default:
			v := c.value.Text
			rows[i].Text = &v
		}
	}

	pw := parquet.NewGenericWriter[ParquetRow](f, parquet.Compression(w.codec))
	if _, err := pw.Write(rows); err != nil {
		pw.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func (w *ParquetWriter) Close() error { return nil }

// ReadParquetFile reads every row of a batch file.
func ReadParquetFile(path string) ([]ParquetRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	r := parquet.NewGenericReader[ParquetRow](f)
	defer r.Close()

	rows := make([]ParquetRow, r.NumRows())
	n, err := r.Read(rows)
	if err != nil && n < len(rows) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}
