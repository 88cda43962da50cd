package sqlite

import (
	"context"
	"strings"
	"time"

	gateway "github.com/farebox-io/farebox/internal"
)

// InsertRecords batch-inserts ledger records.
func (s *Store) InsertRecords(ctx context.Context, records []gateway.LedgerRecord) error {
	if len(records) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 16
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.RequestID, r.ClientTxRef, r.DID,
			r.Provider, r.Model, boolToInt(r.IsStream),
			r.PromptTokens, r.CompletionTokens, r.TotalTokens,
			r.CostUSD, r.PicoUSD, r.PricingSource,
			r.StatusCode, r.DurationMs,
			r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO ledger_records
		(id, request_id, client_tx_ref, did, provider, model, is_stream,
		 prompt_tokens, completion_tokens, total_tokens, cost_usd, pico_usd,
		 pricing_source, status_code, duration_ms, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryRecords returns ledger records matching the filter, newest first.
func (s *Store) QueryRecords(ctx context.Context, f gateway.LedgerFilter) ([]gateway.LedgerRecord, error) {
	where, args := ledgerWhere(f)
	query := `SELECT id, request_id, client_tx_ref, did, provider, model, is_stream,
		prompt_tokens, completion_tokens, total_tokens, cost_usd, pico_usd,
		pricing_source, status_code, duration_ms, created_at
		FROM ledger_records` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.LedgerRecord
	for rows.Next() {
		var r gateway.LedgerRecord
		var isStream int
		var createdAt string
		err := rows.Scan(
			&r.ID, &r.RequestID, &r.ClientTxRef, &r.DID,
			&r.Provider, &r.Model, &isStream,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.CostUSD, &r.PicoUSD, &r.PricingSource,
			&r.StatusCode, &r.DurationMs, &createdAt,
		)
		if err != nil {
			return nil, err
		}
		r.IsStream = isStream != 0
		if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRecords returns the count of ledger records matching the filter.
func (s *Store) CountRecords(ctx context.Context, f gateway.LedgerFilter) (int, error) {
	where, args := ledgerWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_records`+where, args...,
	).Scan(&n)
	return n, err
}

// SummarizeByProvider aggregates matching records per provider.
func (s *Store) SummarizeByProvider(ctx context.Context, f gateway.LedgerFilter) ([]gateway.ProviderSummary, error) {
	where, args := ledgerWhere(f)
	rows, err := s.read.QueryContext(ctx,
		`SELECT provider, COUNT(*), COALESCE(SUM(total_tokens), 0),
		 COALESCE(SUM(cost_usd), 0), COALESCE(SUM(pico_usd), 0)
		 FROM ledger_records`+where+` GROUP BY provider ORDER BY provider`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.ProviderSummary
	for rows.Next() {
		var ps gateway.ProviderSummary
		if err := rows.Scan(&ps.Provider, &ps.Requests, &ps.TotalTokens,
			&ps.TotalCostUSD, &ps.TotalPicoUSD); err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// SumPicoUSD returns the total billed amount for one DID.
func (s *Store) SumPicoUSD(ctx context.Context, did string) (int64, error) {
	var total int64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(pico_usd), 0) FROM ledger_records WHERE did = ?`, did,
	).Scan(&total)
	return total, err
}

// DeleteBefore removes records created before cutoff and returns the count.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM ledger_records WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func ledgerWhere(f gateway.LedgerFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.DID != "" {
		clauses = append(clauses, "did = ?")
		args = append(args, f.DID)
	}
	if f.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, f.Provider)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
