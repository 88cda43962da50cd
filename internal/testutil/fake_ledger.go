package testutil

import (
	"context"
	"sync"

	gateway "github.com/farebox-io/farebox/internal"
)

// FakeLedger records ledger entries in memory. It satisfies both the
// pipeline's LedgerSink and the recorder's write store.
type FakeLedger struct {
	mu      sync.Mutex
	records []gateway.LedgerRecord

	InsertErr error
}

// Record appends one entry.
func (f *FakeLedger) Record(r gateway.LedgerRecord) {
	f.mu.Lock()
	f.records = append(f.records, r)
	f.mu.Unlock()
}

// InsertRecords appends a batch, or fails with InsertErr when set.
func (f *FakeLedger) InsertRecords(_ context.Context, records []gateway.LedgerRecord) error {
	if f.InsertErr != nil {
		return f.InsertErr
	}
	f.mu.Lock()
	f.records = append(f.records, records...)
	f.mu.Unlock()
	return nil
}

// Records returns a copy of everything recorded so far.
func (f *FakeLedger) Records() []gateway.LedgerRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.LedgerRecord, len(f.records))
	copy(out, f.records)
	return out
}
