package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	gateway "github.com/farebox-io/farebox/internal"
)

// adminOnly gates admin routes on X-Admin-Key matching the configured key.
// Comparison is constant-time; an unconfigured key disables the routes.
func (s *server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AdminKey == "" {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse("admin API not configured"))
			return
		}
		got := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.AdminKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleAdminConfig reports the effective runtime configuration. API keys
// never appear here; ProviderConfig excludes them from serialization.
func (s *server) handleAdminConfig(w http.ResponseWriter, _ *http.Request) {
	providers := make([]gateway.ProviderConfig, 0, 8)
	for _, name := range s.deps.Providers.List() {
		if e := s.deps.Providers.Get(name); e != nil {
			providers = append(providers, e.Config)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":          providers,
		"pricing_version":    s.deps.Pricing.Version(),
		"pricing_multiplier": s.deps.Pricing.Multiplier(),
	})
}

// ledgerFilterFromQuery parses the shared billing query parameters.
func ledgerFilterFromQuery(r *http.Request) (gateway.LedgerFilter, error) {
	q := r.URL.Query()
	f := gateway.LedgerFilter{
		DID:      q.Get("did"),
		Provider: q.Get("provider"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		f.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		f.Until = t
	}
	if v := q.Get("offset"); v != "" {
		json.Unmarshal([]byte(v), &f.Offset) //nolint:errcheck
	}
	if v := q.Get("limit"); v != "" {
		json.Unmarshal([]byte(v), &f.Limit) //nolint:errcheck
	}
	return f, nil
}

func (s *server) handleBillingRecords(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("ledger not configured"))
		return
	}
	f, err := ledgerFilterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid time format, use RFC3339"))
		return
	}
	records, err := s.deps.Ledger.QueryRecords(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to query ledger"))
		return
	}
	total, err := s.deps.Ledger.CountRecords(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to count ledger"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
	})
}

func (s *server) handleBillingSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("ledger not configured"))
		return
	}
	f, err := ledgerFilterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid time format, use RFC3339"))
		return
	}
	summary, err := s.deps.Ledger.SummarizeByProvider(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to summarize ledger"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": summary})
}

func (s *server) handleBillingBalance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("ledger not configured"))
		return
	}
	did := r.URL.Query().Get("did")
	if did == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("did is required"))
		return
	}
	total, err := s.deps.Ledger.SumPicoUSD(r.Context(), did)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to sum ledger"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"did":            did,
		"total_pico_usd": total,
	})
}

func (s *server) handleBillingCleanup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("ledger not configured"))
		return
	}
	var req struct {
		Days   int    `json:"days"`
		Before string `json:"before"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("days or before (RFC3339) is required"))
		return
	}
	var cutoff time.Time
	switch {
	case req.Before != "":
		t, err := time.Parse(time.RFC3339, req.Before)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid before format, use RFC3339"))
			return
		}
		cutoff = t
	case req.Days > 0:
		cutoff = time.Now().UTC().AddDate(0, 0, -req.Days)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse("days or before (RFC3339) is required"))
		return
	}
	deleted, err := s.deps.Ledger.DeleteBefore(r.Context(), cutoff)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to delete records"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
