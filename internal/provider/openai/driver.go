// Package openai implements the provider driver for the OpenAI API
// (Chat Completions and Response API).
package openai

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
	defaultBaseURL = "https://api.openai.com"
	driverName     = "openai"
)

var _ provider.Driver = (*Driver)(nil)

var supportedPaths = []string{
	"/v1/chat/completions",
	"/v1/responses",
}

// Driver forwards requests to the OpenAI API with Bearer auth.
type Driver struct {
	apiKey  string
	baseURL string
	http    *http.Client
	pricing *pricing.Registry
}

// New creates an OpenAI Driver. baseURL defaults to the public API.
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

// Prepare injects stream_options.include_usage into streaming Chat
// Completions bodies so the upstream emits a terminal usage chunk. The
// Response API reports usage in its completed event unconditionally, so
// bodies without a "messages" field pass through unchanged. Idempotent.
func (d *Driver) Prepare(body []byte, stream bool) ([]byte, error) {
	if !stream || !gjson.GetBytes(body, "messages").Exists() {
		return body, nil
	}
	return sjson.SetBytes(body, "stream_options.include_usage", true)
}

// Forward performs the upstream call with Bearer auth.
func (d *Driver) Forward(ctx context.Context, spec provider.ForwardSpec) (*http.Response, error) {
	return provider.Call(ctx, d.http, driverName, d.baseURL, spec, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+d.apiKey)
	})
}

// ProviderCostUSD returns nil; OpenAI does not quote native USD costs.
func (d *Driver) ProviderCostUSD(_ *http.Response, _ []byte) *float64 { return nil }

// NewExtractor returns the OpenAI usage extractor.
func (d *Driver) NewExtractor() usage.Extractor { return extractor{} }

// NewProcessor returns a stream processor in overwrite mode: OpenAI emits a
// single terminal usage object per stream.
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
