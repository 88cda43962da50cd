// Package litellm implements the provider driver for a LiteLLM proxy
// deployment. LiteLLM speaks the Chat Completions shape and quotes its
// native USD cost in the x-litellm-response-cost response header.
package litellm

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/farebox-io/farebox/internal/pricing"
	"github.com/farebox-io/farebox/internal/provider"
	"github.com/farebox-io/farebox/internal/usage"
)

const (
	defaultBaseURL = "http://localhost:4000"
	driverName     = "litellm"

	costHeader = "x-litellm-response-cost"
)

var _ provider.Driver = (*Driver)(nil)

var supportedPaths = []string{
	"/v1/chat/completions",
	"/v1/embeddings",
	"/v1/models",
}

// Driver forwards requests to a LiteLLM deployment with Bearer auth.
type Driver struct {
	apiKey  string
	baseURL string
	http    *http.Client
	pricing *pricing.Registry
}

// New creates a LiteLLM Driver. baseURL defaults to a local deployment.
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

// Prepare passes bodies through unchanged; LiteLLM reports cost via header
// regardless of request flags.
func (d *Driver) Prepare(body []byte, _ bool) ([]byte, error) { return body, nil }

// Forward performs the upstream call with Bearer auth.
func (d *Driver) Forward(ctx context.Context, spec provider.ForwardSpec) (*http.Response, error) {
	return provider.Call(ctx, d.http, driverName, d.baseURL, spec, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+d.apiKey)
	})
}

// ProviderCostUSD reads the native USD cost from the response header. The
// header is present on streaming responses too, before any body bytes, so
// the pipeline threads it into the processor as the initial cost.
func (d *Driver) ProviderCostUSD(resp *http.Response, _ []byte) *float64 {
	raw := resp.Header.Get(costHeader)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return nil
	}
	return usage.Float(v)
}

// NewExtractor returns the LiteLLM usage extractor.
func (d *Driver) NewExtractor() usage.Extractor { return extractor{} }

// NewProcessor returns a stream processor in overwrite mode.
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
