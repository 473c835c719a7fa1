package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/types"
	"github.com/xtxerr/gridrelay/internal/validation"
)

var longColumns = []string{"ts", "minute", "sid", "tag", "num", "flag", "txt"}

// Dialect describes how a SQL backend creates its table and bulk-loads rows.
type Dialect struct {
	Name string

	// Schema returns the CREATE TABLE IF NOT EXISTS statement.
	Schema func(table string) string

	// Load returns the statement prepared once per batch and executed once
	// per cell.
	Load func(table string) string

	// Flush is set when the load statement needs a final argument-less Exec
	// to complete (COPY).
	Flush bool
}

// DuckDB loads cells with a prepared INSERT.
var DuckDB = Dialect{
	Name: "duckdb",
	Schema: func(table string) string {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts TIMESTAMP NOT NULL,
	minute VARCHAR NOT NULL,
	sid INTEGER NOT NULL,
	tag VARCHAR NOT NULL,
	num DOUBLE,
	flag BOOLEAN,
	txt VARCHAR
)`, table)
	},
	Load: func(table string) string {
		return fmt.Sprintf("INSERT INTO %s (ts, minute, sid, tag, num, flag, txt) VALUES ($1, $2, $3, $4, $5, $6, $7)", table)
	},
}

// Postgres bulk-loads cells with COPY FROM STDIN.
var Postgres = Dialect{
	Name: "postgres",
	Schema: func(table string) string {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts TIMESTAMPTZ NOT NULL,
	minute TEXT NOT NULL,
	sid INTEGER NOT NULL,
	tag TEXT NOT NULL,
	num DOUBLE PRECISION,
	flag BOOLEAN,
	txt TEXT
)`, table)
	},
	Load: func(table string) string {
		return pq.CopyIn(table, longColumns...)
	},
	Flush: true,
}

// SQLWriter writes batches in long format, one transaction per batch.
type SQLWriter struct {
	db      *sql.DB
	table   string
	dialect Dialect
}

// NewSQLWriter wraps an open database. The table must already exist or be
// created with EnsureSchema.
func NewSQLWriter(db *sql.DB, table string, dialect Dialect) (*SQLWriter, error) {
	if err := validation.ValidateIdentifier(table); err != nil {
		return nil, errors.NewInvalidValue("store.table", table, err.Error())
	}
	return &SQLWriter{db: db, table: table, dialect: dialect}, nil
}

// OpenDuckDB opens (or creates) the database file at path. An empty path
// opens an in-memory database.
func OpenDuckDB(ctx context.Context, path, table string) (*SQLWriter, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// DuckDB allows a single writer connection per file.
	db.SetMaxOpenConns(1)
	return openSQL(ctx, db, table, DuckDB)
}

// OpenPostgres connects to dsn.
func OpenPostgres(ctx context.Context, dsn, table string) (*SQLWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return openSQL(ctx, db, table, Postgres)
}

func openSQL(ctx context.Context, db *sql.DB, table string, dialect Dialect) (*SQLWriter, error) {
	w, err := NewSQLWriter(db, table, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := w.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// Name returns the dialect name.
func (w *SQLWriter) Name() string { return w.dialect.Name }

// EnsureSchema creates the destination table if it does not exist.
func (w *SQLWriter) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, w.dialect.Schema(w.table)); err != nil {
		return fmt.Errorf("create table %s: %w", w.table, err)
	}
	return nil
}

// WriteBatch loads every cell of batch inside one transaction.
func (w *SQLWriter) WriteBatch(ctx context.Context, batch *types.SecondBatch) error {
	cells := flatten(batch)
	if len(cells) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", errors.ErrSinkWrite, err)
	}

	if err := w.load(ctx, tx, batch.Key, cells); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", errors.ErrSinkWrite, err)
	}
	return nil
}

func (w *SQLWriter) load(ctx context.Context, tx *sql.Tx, key types.BatchKey, cells []longRow) error {
	stmt, err := tx.PrepareContext(ctx, w.dialect.Load(w.table))
	if err != nil {
		return fmt.Errorf("%w: prepare: %w", errors.ErrSinkWrite, err)
	}
	defer stmt.Close()

	for _, c := range cells {
		num, flag, txt := columns(c.value)
		if _, err := stmt.ExecContext(ctx, c.ts, key.Minute, key.SID, c.tag, num, flag, txt); err != nil {
			return fmt.Errorf("%w: row %s/%s: %w", errors.ErrSinkWrite, c.ts.Format(types.RowTimeLayout), c.tag, err)
		}
	}

	if w.dialect.Flush {
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("%w: flush: %w", errors.ErrSinkWrite, err)
		}
	}
	return nil
}

// Close closes the database.
func (w *SQLWriter) Close() error {
	return w.db.Close()
}
