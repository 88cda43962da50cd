// Package claude implements the provider driver for the Anthropic Messages
// API. Streaming uses typed SSE events; usage arrives as a cumulative
// sequence (message_start carries input tokens, message_delta carries the
// running output total).
package claude

import (
	"context"
	"net/http"
	"strings"

	"github.com/farebox-io/farebox/internal/pricing"
	"github.com/farebox-io/farebox/internal/provider"
	"github.com/farebox-io/farebox/internal/usage"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	driverName       = "claude"
	anthropicVersion = "2023-06-01"
)

var _ provider.Driver = (*Driver)(nil)

var supportedPaths = []string{
	"/v1/messages",
}

// Driver forwards requests to the Anthropic API using x-api-key auth plus
// the anthropic-version header.
type Driver struct {
	apiKey  string
	baseURL string
	http    *http.Client
	pricing *pricing.Registry
}

// New creates a Claude Driver. baseURL defaults to the public Anthropic API.
func New(apiKey, baseURL string, client *http.Client, pr *pricing.Registry) *Driver {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Driver{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		pricing: pr,
	}
}

// Name returns the provider tag.
func (d *Driver) Name() string { return driverName }

// SupportedPaths returns the upstream paths this driver accepts.
func (d *Driver) SupportedPaths() []string { return supportedPaths }

// Prepare passes bodies through unchanged; the Messages API always reports
// usage on message_start and message_delta events.
func (d *Driver) Prepare(body []byte, _ bool) ([]byte, error) { return body, nil }

// Forward performs the upstream call with Anthropic headers.
func (d *Driver) Forward(ctx context.Context, spec provider.ForwardSpec) (*http.Response, error) {
	return provider.Call(ctx, d.http, driverName, d.baseURL, spec, func(r *http.Request) {
		r.Header.Set("x-api-key", d.apiKey)
		r.Header.Set("anthropic-version", anthropicVersion)
	})
}

// ProviderCostUSD returns nil; Anthropic does not quote native USD costs.
func (d *Driver) ProviderCostUSD(_ *http.Response, _ []byte) *float64 { return nil }

// NewExtractor returns the Claude usage extractor.
func (d *Driver) NewExtractor() usage.Extractor { return extractor{} }

// NewProcessor returns a stream processor in cumulative-max mode: Claude
// streams running totals, so per-field max is the only accumulation that
// survives event retransmission without double counting.
func (d *Driver) NewProcessor(model string, initialCostUSD *float64) *usage.Processor {
	return usage.NewProcessor(usage.Config{
		Provider:       driverName,
		Model:          model,
		Mode:           usage.ModeCumulativeMax,
		Extractor:      extractor{},
		Pricing:        d.pricing,
		InitialCostUSD: initialCostUSD,
	})
}
