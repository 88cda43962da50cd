// Package gateway defines domain types and interfaces for the Farebox LLM gateway.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"net/http"
	"time"
)

// --- Caller identity ---

// DIDInfo identifies an authenticated caller by decentralized identifier.
type DIDInfo struct {
	DID   string `json:"did"`
	KeyID string `json:"keyId"`
}

// Authenticator validates request credentials and returns the caller's DID.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*DIDInfo, error)
}

// --- Usage and pricing ---

// UsageInfo holds token counts extracted from an upstream response.
// TotalTokens may exceed PromptTokens+CompletionTokens when the upstream
// bundles tool tokens into the reported total.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelPricing holds per-model token rates in USD per million tokens.
type ModelPricing struct {
	PromptPerMTok     float64 `json:"prompt_per_mtok"`
	CompletionPerMTok float64 `json:"completion_per_mtok"`
}

// PricingSource tells where a final cost came from.
type PricingSource string

const (
	// SourceProvider means the upstream quoted a native USD cost.
	SourceProvider PricingSource = "provider"
	// SourceGateway means the cost was computed from local rate tables.
	SourceGateway PricingSource = "gateway-pricing"
)

// PricingResult is the final costing outcome for one request.
type PricingResult struct {
	CostUSD        float64       `json:"cost_usd"`
	Source         PricingSource `json:"source"`
	PricingVersion string        `json:"pricing_version,omitempty"`
	Model          string        `json:"model,omitempty"`
	Usage          *UsageInfo    `json:"usage,omitempty"`
}

// --- Provider configuration ---

// ProviderConfig describes one upstream LLM provider. Immutable after
// registration.
type ProviderConfig struct {
	Name                  string   `json:"name"`
	BaseURL               string   `json:"base_url"`
	RequiresAPIKey        bool     `json:"requires_api_key"`
	APIKey                string   `json:"-"` // held in memory only, never serialized
	SupportsNativeUSDCost bool     `json:"supports_native_usd_cost"`
	AllowedPaths          []string `json:"allowed_paths"`
}

// --- Billing handoff ---

// Billing is the per-request billing handoff consumed by the payment
// collaborator after the response is finalized. PicoUSD is 1e-12 USD.
type Billing struct {
	PicoUSD int64
	Cost    *PricingResult
}

// --- Ledger ---

// LedgerRecord is one finalized request in the billing ledger.
type LedgerRecord struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"request_id"`
	ClientTxRef      string    `json:"client_tx_ref,omitempty"`
	DID              string    `json:"did,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model,omitempty"`
	IsStream         bool      `json:"is_stream"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	PicoUSD          int64     `json:"pico_usd"`
	PricingSource    string    `json:"pricing_source,omitempty"`
	StatusCode       int       `json:"status_code"`
	DurationMs       int       `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// LedgerFilter narrows ledger queries.
type LedgerFilter struct {
	DID      string
	Provider string
	Since    time.Time
	Until    time.Time
	Offset   int
	Limit    int
}

// ProviderSummary aggregates ledger rows for one provider.
type ProviderSummary struct {
	Provider     string  `json:"provider"`
	Requests     int64   `json:"requests"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	TotalPicoUSD int64   `json:"total_pico_usd"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// DID and Billing are set later via mutation of the same pointer, avoiding
// extra context.WithValue + Request.WithContext copies on the hot path.
type requestMeta struct {
	RequestID   string
	ClientTxRef string
	DID         *DIDInfo
	Billing     Billing
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// ContextWithRequestID returns a context carrying a fresh requestMeta with the
// given request ID. clientTxRef may be empty when the client sent no tx ref.
func ContextWithRequestID(ctx context.Context, id, clientTxRef string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id, ClientTxRef: clientTxRef})
}

// RequestIDFromContext extracts the request ID from ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ClientTxRefFromContext extracts the client transaction reference, or "".
func ClientTxRefFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.ClientTxRef
	}
	return ""
}

// ContextWithDID stores the authenticated DID in the existing requestMeta if
// present, falling back to a new metadata value (e.g. in tests).
func ContextWithDID(ctx context.Context, did *DIDInfo) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.DID = did
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{DID: did})
}

// DIDFromContext extracts the authenticated DID from ctx, or nil.
func DIDFromContext(ctx context.Context) *DIDInfo {
	if m := metaFromContext(ctx); m != nil {
		return m.DID
	}
	return nil
}

// SetBilling writes the billing handoff into the request metadata. The proxy
// pipeline calls this exactly once, before the access log record is emitted,
// so the payment collaborator always observes the final value.
func SetBilling(ctx context.Context, b Billing) {
	if m := metaFromContext(ctx); m != nil {
		m.Billing = b
	}
}

// BillingFromContext reads the billing handoff left by the pipeline.
func BillingFromContext(ctx context.Context) Billing {
	if m := metaFromContext(ctx); m != nil {
		return m.Billing
	}
	return Billing{}
}
