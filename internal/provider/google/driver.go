// Package google implements the provider driver for the Google Gemini
// generateContent API.
package google

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/farebox-io/farebox/internal/pricing"
	"github.com/farebox-io/farebox/internal/provider"
	"github.com/farebox-io/farebox/internal/usage"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	driverName     = "google"
)

var _ provider.Driver = (*Driver)(nil)

var supportedPaths = []string{
	"/v1beta/models/{model}:generateContent",
	"/v1beta/models/{model}:streamGenerateContent",
	"/v1/models/{model}:generateContent",
	"/v1/models/{model}:streamGenerateContent",
}

// Driver forwards requests to the Gemini API. Auth is a ?key= query
// parameter; when apiKey is empty the http.Client is expected to carry
// OAuth credentials in its transport chain (Vertex hosting).
type Driver struct {
	apiKey  string
	baseURL string
	http    *http.Client
	pricing *pricing.Registry
}

// New creates a Google Driver. baseURL defaults to the public Gemini API.
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

// Prepare translates OpenAI-shaped bodies (a "messages" array) into the
// Gemini generateContent shape: contents, systemInstruction, and
// generationConfig. Native Gemini bodies pass through unchanged.
// Idempotent: translated bodies have no "messages" field.
func (d *Driver) Prepare(body []byte, _ bool) ([]byte, error) {
	if !gjson.GetBytes(body, "messages").Exists() {
		return body, nil
	}
	return translateBody(body)
}

// Forward performs the upstream call. streamGenerateContent defaults to
// alt=sse so chunks arrive as SSE data lines rather than a JSON array.
func (d *Driver) Forward(ctx context.Context, spec provider.ForwardSpec) (*http.Response, error) {
	if spec.Stream && spec.Query.Get("alt") == "" {
		spec.Query.Set("alt", "sse")
	}
	if d.apiKey != "" {
		spec.Query.Set("key", d.apiKey)
	}
	return provider.Call(ctx, d.http, driverName, d.baseURL, spec, nil)
}

// ProviderCostUSD returns nil; Gemini does not quote native USD costs.
func (d *Driver) ProviderCostUSD(_ *http.Response, _ []byte) *float64 { return nil }

// NewExtractor returns the Gemini usage extractor.
func (d *Driver) NewExtractor() usage.Extractor { return extractor{} }

// NewProcessor returns a stream processor in cumulative-max mode: Gemini's
// usageMetadata counters are cumulative across chunks.
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
