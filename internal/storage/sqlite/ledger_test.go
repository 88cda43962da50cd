package sqlite

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	gateway "github.com/farebox-io/farebox/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(i int, did, provider string, createdAt time.Time) gateway.LedgerRecord {
	return gateway.LedgerRecord{
		ID:               fmt.Sprintf("rec-%03d", i),
		RequestID:        fmt.Sprintf("req-%03d", i),
		ClientTxRef:      fmt.Sprintf("tx-%03d", i),
		DID:              did,
		Provider:         provider,
		Model:            "gpt-4",
		IsStream:         i%2 == 0,
		PromptTokens:     1000,
		CompletionTokens: 500,
		TotalTokens:      1500,
		CostUSD:          0.06,
		PicoUSD:          60_000_000_000,
		PricingSource:    "gateway-pricing",
		StatusCode:       200,
		DurationMs:       120,
		CreatedAt:        createdAt,
	}
}

func TestInsertAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	records := []gateway.LedgerRecord{
		sampleRecord(1, "did:example:alice", "openai", base),
		sampleRecord(2, "did:example:alice", "claude", base.Add(time.Hour)),
		sampleRecord(3, "did:example:bob", "openai", base.Add(2*time.Hour)),
	}
	if err := s.InsertRecords(ctx, records); err != nil {
		t.Fatalf("InsertRecords: %v", err)
	}
	// Empty batches are a no-op.
	if err := s.InsertRecords(ctx, nil); err != nil {
		t.Fatalf("InsertRecords(nil): %v", err)
	}

	t.Run("all records, newest first", func(t *testing.T) {
		got, err := s.QueryRecords(ctx, gateway.LedgerFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("len = %d", len(got))
		}
		if got[0].ID != "rec-003" || got[2].ID != "rec-001" {
			t.Errorf("order: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
		}
		r := got[2]
		if r.DID != "did:example:alice" || r.PicoUSD != 60_000_000_000 || !r.CreatedAt.Equal(base) {
			t.Errorf("record = %+v", r)
		}
		if r.IsStream != true {
			t.Errorf("IsStream = %v", r.IsStream)
		}
	})

	t.Run("filter by did", func(t *testing.T) {
		got, err := s.QueryRecords(ctx, gateway.LedgerFilter{DID: "did:example:alice"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("len = %d", len(got))
		}
	})

	t.Run("filter by provider and time window", func(t *testing.T) {
		got, err := s.QueryRecords(ctx, gateway.LedgerFilter{
			Provider: "openai",
			Since:    base.Add(time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "rec-003" {
			t.Errorf("got = %+v", got)
		}

		got, err = s.QueryRecords(ctx, gateway.LedgerFilter{Until: base.Add(time.Minute)})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "rec-001" {
			t.Errorf("got = %+v", got)
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		got, err := s.QueryRecords(ctx, gateway.LedgerFilter{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "rec-002" {
			t.Errorf("got = %+v", got)
		}
	})

	t.Run("count", func(t *testing.T) {
		n, err := s.CountRecords(ctx, gateway.LedgerFilter{DID: "did:example:alice"})
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("count = %d", n)
		}
	})
}

func TestSummarizeByProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	err := s.InsertRecords(ctx, []gateway.LedgerRecord{
		sampleRecord(1, "did:example:alice", "openai", base),
		sampleRecord(2, "did:example:alice", "openai", base),
		sampleRecord(3, "did:example:alice", "claude", base),
	})
	if err != nil {
		t.Fatal(err)
	}

	sums, err := s.SummarizeByProvider(ctx, gateway.LedgerFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 {
		t.Fatalf("sums = %+v", sums)
	}
	// Sorted by provider: claude first.
	if sums[0].Provider != "claude" || sums[0].Requests != 1 {
		t.Errorf("sums[0] = %+v", sums[0])
	}
	if sums[1].Provider != "openai" || sums[1].Requests != 2 {
		t.Errorf("sums[1] = %+v", sums[1])
	}
	if sums[1].TotalTokens != 3000 || sums[1].TotalPicoUSD != 120_000_000_000 {
		t.Errorf("sums[1] = %+v", sums[1])
	}
}

func TestSumPicoUSD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	err := s.InsertRecords(ctx, []gateway.LedgerRecord{
		sampleRecord(1, "did:example:alice", "openai", base),
		sampleRecord(2, "did:example:alice", "openai", base),
		sampleRecord(3, "did:example:bob", "openai", base),
	})
	if err != nil {
		t.Fatal(err)
	}

	total, err := s.SumPicoUSD(ctx, "did:example:alice")
	if err != nil {
		t.Fatal(err)
	}
	if total != 120_000_000_000 {
		t.Errorf("total = %d", total)
	}

	total, err = s.SumPicoUSD(ctx, "did:example:nobody")
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
}

func TestDeleteBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	err := s.InsertRecords(ctx, []gateway.LedgerRecord{
		sampleRecord(1, "did:example:alice", "openai", base),
		sampleRecord(2, "did:example:alice", "openai", base.Add(24*time.Hour)),
	})
	if err != nil {
		t.Fatal(err)
	}

	deleted, err := s.DeleteBefore(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d", deleted)
	}
	n, err := s.CountRecords(ctx, gateway.LedgerFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("remaining = %d", n)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestLedgerDSN(t *testing.T) {
	mem := ledgerDSN(":memory:")
	if !strings.HasPrefix(mem, "file::memory:?mode=memory&cache=shared&") {
		t.Errorf("memory DSN = %q", mem)
	}
	file := ledgerDSN("farebox.db")
	if !strings.HasPrefix(file, "file:farebox.db?") {
		t.Errorf("file DSN = %q", file)
	}
	for _, pragma := range []string{"journal_mode(WAL)", "synchronous(NORMAL)", "busy_timeout(5000)", "foreign_keys(1)"} {
		if !strings.Contains(file, pragma) {
			t.Errorf("file DSN missing %s", pragma)
		}
		if !strings.Contains(mem, pragma) {
			t.Errorf("memory DSN missing %s", pragma)
		}
	}
}
