// Package openrouter implements the provider driver for the OpenRouter API.
// OpenRouter speaks the Chat Completions shape and quotes a native USD cost
// in usage.cost when accounting is requested.
package openrouter

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/farebox-io/farebox/internal/pricing"
	"github.com/farebox-io/farebox/internal/provider"
	"github.com/farebox-io/farebox/internal/usage"
)

const (
	defaultBaseURL = "https://openrouter.ai/api"
	driverName     = "openrouter"
)

var _ provider.Driver = (*Driver)(nil)

var supportedPaths = []string{
	"/v1/chat/completions",
	"/v1/completions",
}

// Driver forwards requests to OpenRouter with Bearer auth.
type Driver struct {
	apiKey  string
	baseURL string
	http    *http.Client
	pricing *pricing.Registry
}

// New creates an OpenRouter Driver. baseURL defaults to the public API.
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

// Prepare injects usage.include so OpenRouter reports token counts and the
// native USD cost in both non-stream bodies and terminal SSE chunks.
// Idempotent.
func (d *Driver) Prepare(body []byte, _ bool) ([]byte, error) {
	return sjson.SetBytes(body, "usage.include", true)
}

// Forward performs the upstream call with Bearer auth.
func (d *Driver) Forward(ctx context.Context, spec provider.ForwardSpec) (*http.Response, error) {
	return provider.Call(ctx, d.http, driverName, d.baseURL, spec, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+d.apiKey)
	})
}

// ProviderCostUSD reads the native USD cost from a non-streaming body.
// Authoritative over gateway pricing when present.
func (d *Driver) ProviderCostUSD(_ *http.Response, body []byte) *float64 {
	if c := gjson.GetBytes(body, "usage.cost"); c.Exists() && c.Type == gjson.Number {
		return usage.Float(c.Float())
	}
	return nil
}

// NewExtractor returns the OpenRouter usage extractor.
func (d *Driver) NewExtractor() usage.Extractor { return extractor{} }

// NewProcessor returns a stream processor in overwrite mode: OpenRouter
// emits one terminal usage chunk per stream.
func (d *Driver) NewProcessor(model string, initialCostUSD *float64) *usage.Processor {
	return usage.NewProcessor(usage.Config{
		Provider:       driverName,
		Model:          model,
		Mode:           usage.ModeOverwrite,
		Extractor:      extractor{},
		Pricing:        d.pricing,
		InitialCostUSD: initialCostUSD,
	})
}
