package testutil

import (
	"context"
	"net/http"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/pricing"
	"github.com/farebox-io/farebox/internal/provider"
	"github.com/farebox-io/farebox/internal/usage"
)

// FakeDriver is a configurable provider.Driver for testing.
type FakeDriver struct {
	DriverName string
	Paths      []string
	Mode       usage.Mode
	Pricing    *pricing.Registry

	PrepareFn      func(body []byte, stream bool) ([]byte, error)
	ForwardFn      func(ctx context.Context, spec provider.ForwardSpec) (*http.Response, error)
	ProviderCostFn func(resp *http.Response, body []byte) *float64
	Extractor      usage.Extractor
}

var _ provider.Driver = (*FakeDriver)(nil)

// Name returns the configured driver name.
func (f *FakeDriver) Name() string { return f.DriverName }

// SupportedPaths returns the configured paths, defaulting to the chat
// completion path.
func (f *FakeDriver) SupportedPaths() []string {
	if len(f.Paths) > 0 {
		return f.Paths
	}
	return []string{"/v1/chat/completions"}
}

// Prepare delegates to PrepareFn or passes the body through.
func (f *FakeDriver) Prepare(body []byte, stream bool) ([]byte, error) {
	if f.PrepareFn != nil {
		return f.PrepareFn(body, stream)
	}
	return body, nil
}

// Forward delegates to ForwardFn or returns an empty 200.
func (f *FakeDriver) Forward(ctx context.Context, spec provider.ForwardSpec) (*http.Response, error) {
	if f.ForwardFn != nil {
		return f.ForwardFn(ctx, spec)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       http.NoBody,
	}, nil
}

// ProviderCostUSD delegates to ProviderCostFn or returns nil.
func (f *FakeDriver) ProviderCostUSD(resp *http.Response, body []byte) *float64 {
	if f.ProviderCostFn != nil {
		return f.ProviderCostFn(resp, body)
	}
	return nil
}

// NewExtractor returns the configured extractor, defaulting to the
// Chat-Completions body shape.
func (f *FakeDriver) NewExtractor() usage.Extractor {
	if f.Extractor != nil {
		return f.Extractor
	}
	return chatExtractor{}
}

// NewProcessor returns a Processor in the configured mode.
func (f *FakeDriver) NewProcessor(model string, initialCostUSD *float64) *usage.Processor {
	return usage.NewProcessor(usage.Config{
		Provider:       f.DriverName,
		Model:          model,
		Mode:           f.Mode,
		Extractor:      f.NewExtractor(),
		Pricing:        f.Pricing,
		InitialCostUSD: initialCostUSD,
	})
}

// chatExtractor reads Chat-Completions-shaped usage.
type chatExtractor struct{}

func (chatExtractor) FromResponseBody(body []byte) *gateway.UsageInfo {
	return usage.ParseBodyUsage(body)
}

func (chatExtractor) FromStreamEvent(_, data string) *usage.Observation {
	if data == "" {
		return nil
	}
	if u := usage.ParseBodyUsage([]byte(data)); u != nil {
		return &usage.Observation{Usage: u}
	}
	return nil
}
