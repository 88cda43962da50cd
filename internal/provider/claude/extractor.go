package claude

import (
	"github.com/tidwall/gjson"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/usage"
)

// extractor reads the Anthropic Messages event stream:
//
//	message_start  -> message.usage.input_tokens (output is 0 here)
//	message_delta  -> usage.output_tokens, cumulative
//	message_stop   -> stream complete
//
// Each observation surfaces the values as seen; the processor's
// cumulative-max accumulation makes overlapping deltas safe.
type extractor struct{}

var _ usage.Extractor = extractor{}

func (extractor) FromResponseBody(body []byte) *gateway.UsageInfo {
	// Non-streaming Messages responses carry Response-API-shaped usage
	// (input_tokens / output_tokens) at the top level.
	return usage.ParseTokens(gjson.GetBytes(body, "usage"))
}

func (extractor) FromStreamEvent(event, data string) *usage.Observation {
	r := gjson.Parse(data)
	if event == "" {
		// Anthropic payloads repeat the event name in a "type" field;
		// fall back to it when the event line was lost.
		event = r.Get("type").String()
	}

	switch event {
	case "message_start":
		u := usage.ParseTokens(r.Get("message.usage"))
		if u == nil {
			return nil
		}
		return &usage.Observation{Usage: u}

	case "message_delta":
		out := r.Get("usage.output_tokens")
		if !out.Exists() {
			return nil
		}
		u := &gateway.UsageInfo{CompletionTokens: int(out.Int())}
		u.TotalTokens = u.CompletionTokens
		return &usage.Observation{Usage: u}

	case "message_stop":
		return &usage.Observation{Done: true}
	}
	return nil
}
