package openrouter

import (
	"github.com/tidwall/gjson"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/usage"
)

// extractor reads Chat-Completions-shaped usage plus the OpenRouter
// usage.cost field, which may appear in terminal SSE chunks.
type extractor struct{}

var _ usage.Extractor = extractor{}

func (extractor) FromResponseBody(body []byte) *gateway.UsageInfo {
	return usage.ParseBodyUsage(body)
}

func (extractor) FromStreamEvent(_, data string) *usage.Observation {
	r := gjson.Parse(data)
	u := usage.ParseTokens(r.Get("usage"))
	if u == nil {
		return nil
	}
	obs := &usage.Observation{Usage: u}
	if c := r.Get("usage.cost"); c.Exists() && c.Type == gjson.Number {
		obs.CostUSD = usage.Float(c.Float())
	}
	return obs
}
