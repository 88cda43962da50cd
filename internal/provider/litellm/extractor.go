package litellm

import (
	"github.com/tidwall/gjson"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/usage"
)

// extractor reads Chat-Completions-shaped usage. The native USD cost comes
// from the response header, not the body; it travels through the driver's
// ProviderCostUSD channel instead.
type extractor struct{}

var _ usage.Extractor = extractor{}

func (extractor) FromResponseBody(body []byte) *gateway.UsageInfo {
	return usage.ParseBodyUsage(body)
}

func (extractor) FromStreamEvent(_, data string) *usage.Observation {
	if u := usage.ParseTokens(gjson.Get(data, "usage")); u != nil {
		return &usage.Observation{Usage: u}
	}
	return nil
}
