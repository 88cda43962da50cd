// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	gateway "github.com/farebox-io/farebox/internal"
)

// LedgerStore manages billing ledger persistence.
type LedgerStore interface {
	InsertRecords(ctx context.Context, records []gateway.LedgerRecord) error
	QueryRecords(ctx context.Context, f gateway.LedgerFilter) ([]gateway.LedgerRecord, error)
	CountRecords(ctx context.Context, f gateway.LedgerFilter) (int, error)
	SummarizeByProvider(ctx context.Context, f gateway.LedgerFilter) ([]gateway.ProviderSummary, error)
	SumPicoUSD(ctx context.Context, did string) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store combines all storage interfaces.
type Store interface {
	LedgerStore
	Ping(ctx context.Context) error
	Close() error
}
