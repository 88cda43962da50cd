package google

import (
	"github.com/tidwall/gjson"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/usage"
)

// extractor reads Gemini usageMetadata. Streamed chunks repeat the counters
// cumulatively; the processor's cumulative-max accumulation keeps the final
// values.
type extractor struct{}

var _ usage.Extractor = extractor{}

func parseUsageMetadata(r gjson.Result) *gateway.UsageInfo {
	if !r.Exists() {
		return nil
	}
	u := &gateway.UsageInfo{
		PromptTokens:     int(r.Get("promptTokenCount").Int()),
		CompletionTokens: int(r.Get("candidatesTokenCount").Int()),
		TotalTokens:      int(r.Get("totalTokenCount").Int()),
	}
	if sum := u.PromptTokens + u.CompletionTokens; u.TotalTokens < sum {
		u.TotalTokens = sum
	}
	return u
}

func (extractor) FromResponseBody(body []byte) *gateway.UsageInfo {
	return parseUsageMetadata(gjson.GetBytes(body, "usageMetadata"))
}

func (extractor) FromStreamEvent(_, data string) *usage.Observation {
	u := parseUsageMetadata(gjson.Get(data, "usageMetadata"))
	if u == nil {
		return nil
	}
	return &usage.Observation{Usage: u}
}
