package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/telemetry"
)

const (
	ledgerChanSize   = 1000
	ledgerBatchSize  = 100
	ledgerFlushEvery = 5 * time.Second
	ledgerDrainTime  = 30 * time.Second
)

// LedgerWriteStore is the persistence interface consumed by LedgerRecorder.
type LedgerWriteStore interface {
	InsertRecords(ctx context.Context, records []gateway.LedgerRecord) error
}

// LedgerRecorder buffers ledger records and batch-flushes them to the store.
// Records are dropped if the channel is full (back-pressure on slow DB).
type LedgerRecorder struct {
	ch      chan gateway.LedgerRecord
	store   LedgerWriteStore
	metrics *telemetry.Metrics
}

// NewLedgerRecorder creates a LedgerRecorder backed by store. metrics may
// be nil.
func NewLedgerRecorder(store LedgerWriteStore, metrics *telemetry.Metrics) *LedgerRecorder {
	return &LedgerRecorder{
		ch:      make(chan gateway.LedgerRecord, ledgerChanSize),
		store:   store,
		metrics: metrics,
	}
}

// Record enqueues a ledger record. It never blocks; drops on full channel.
func (l *LedgerRecorder) Record(r gateway.LedgerRecord) {
	select {
	case l.ch <- r:
		if l.metrics != nil {
			l.metrics.LedgerQueueLen.Set(float64(len(l.ch)))
		}
	default:
		slog.Warn("ledger record dropped, channel full")
	}
}

// Run processes records until ctx is cancelled, then drains remaining records.
func (l *LedgerRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(ledgerFlushEvery)
	defer ticker.Stop()

	buf := make([]gateway.LedgerRecord, 0, ledgerBatchSize)

	for {
		select {
		case r := <-l.ch:
			buf = append(buf, r)
			if len(buf) >= ledgerBatchSize {
				l.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				l.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			// Drain remaining records with a timeout.
			l.drain(buf)
			return nil
		}
	}
}

func (l *LedgerRecorder) drain(buf []gateway.LedgerRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerDrainTime)
	defer cancel()

	for {
		select {
		case r := <-l.ch:
			buf = append(buf, r)
			if len(buf) >= ledgerBatchSize {
				l.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			// Channel empty, flush remaining.
			if len(buf) > 0 {
				l.flush(ctx, buf)
			}
			return
		}
	}
}

func (l *LedgerRecorder) flush(ctx context.Context, buf []gateway.LedgerRecord) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]gateway.LedgerRecord, len(buf))
	copy(batch, buf)

	// Assign IDs off the hot path; callers may leave ID empty.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := l.store.InsertRecords(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "ledger flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	if l.metrics != nil {
		l.metrics.LedgerQueueLen.Set(float64(len(l.ch)))
	}
}
