// Package sqlite persists the billing ledger in an embedded SQLite
// database. The workload is append-heavy: the worker recorder batch-inserts
// finalized requests off the hot path, while the admin billing API issues
// occasional reads.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// readPoolSize bounds the reader pool. Ledger reads come from the admin
// surface only, so a small fixed pool is plenty.
const readPoolSize = 4

// Store implements storage.Store on two pools over one database: a
// single-connection writer (SQLite allows one writer at a time, and queueing
// in the pool beats SQLITE_BUSY churn under recorder batches) and a reader
// pool for admin queries.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// New opens the ledger database, applies migrations, and returns a Store.
func New(dsn string) (*Store, error) {
	fullDSN := ledgerDSN(dsn)

	write, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		return nil, fmt.Errorf("open ledger writer: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open ledger readers: %w", err)
	}
	read.SetMaxOpenConns(readPoolSize)

	if err := migrate(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Store{write: write, read: read}, nil
}

// ledgerDSN appends the connection pragmas. WAL keeps recorder inserts from
// blocking admin reads; NORMAL synchronous loses at most the last batch on
// power failure, and every ledger row is also access-logged. An in-memory
// database uses a shared cache so the writer and reader pools see the same
// data.
func ledgerDSN(dsn string) string {
	const pragmas = "_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	if dsn == ":memory:" {
		return "file::memory:?mode=memory&cache=shared&" + pragmas
	}
	return "file:" + dsn + "?" + pragmas
}

// migrate applies the embedded goose migrations against the writer. fs.Sub
// strips the "migrations/" prefix so goose sees the SQL files at the FS root.
func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	_, err = p.Up(context.Background())
	return err
}

// Ping checks connectivity through the reader pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
