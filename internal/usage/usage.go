// Package usage implements token-shape recognition and the streaming usage
// accumulator shared by all provider drivers.
package usage

import (
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/farebox-io/farebox/internal"
)

// Observation is what an extractor saw in one response body or stream chunk.
type Observation struct {
	Usage   *gateway.UsageInfo
	CostUSD *float64 // native provider USD, when the upstream quotes one
	Done    bool     // terminal marker ([DONE], message_stop, response.completed)
}

// Extractor parses usage out of complete response bodies and SSE payloads.
// Implementations are pure functions of their input; all accumulation lives
// in Processor.
type Extractor interface {
	// FromResponseBody extracts usage from a complete non-streaming body.
	FromResponseBody(body []byte) *gateway.UsageInfo
	// FromStreamEvent extracts an observation from one SSE payload.
	// event is the SSE event name, empty for plain "data:" streams.
	// Returns nil when the chunk carries nothing of interest.
	FromStreamEvent(event, data string) *Observation
}

// ParseTokens recognizes both usage wire shapes inside r:
//
//   - Chat Completions: prompt_tokens / completion_tokens / total_tokens
//   - Response API: input_tokens / output_tokens, plus any other top-level
//     *_tokens fields (tool use), which are summed into the prompt side
//
// Returns nil when r holds neither shape.
func ParseTokens(r gjson.Result) *gateway.UsageInfo {
	if !r.Exists() || !r.IsObject() {
		return nil
	}

	if p, c := r.Get("prompt_tokens"), r.Get("completion_tokens"); p.Exists() || c.Exists() {
		u := &gateway.UsageInfo{
			PromptTokens:     int(p.Int()),
			CompletionTokens: int(c.Int()),
			TotalTokens:      int(r.Get("total_tokens").Int()),
		}
		if u.TotalTokens < u.PromptTokens+u.CompletionTokens {
			u.TotalTokens = u.PromptTokens + u.CompletionTokens
		}
		return u
	}

	if in, out := r.Get("input_tokens"), r.Get("output_tokens"); in.Exists() || out.Exists() {
		u := &gateway.UsageInfo{
			PromptTokens:     int(in.Int()),
			CompletionTokens: int(out.Int()),
		}
		// Tool and cache token fields ride on the input side.
		r.ForEach(func(key, value gjson.Result) bool {
			k := key.String()
			if !strings.HasSuffix(k, "_tokens") || value.Type != gjson.Number {
				return true
			}
			switch k {
			case "input_tokens", "output_tokens", "total_tokens":
				return true
			}
			u.PromptTokens += int(value.Int())
			return true
		})
		u.TotalTokens = int(r.Get("total_tokens").Int())
		if u.TotalTokens < u.PromptTokens+u.CompletionTokens {
			u.TotalTokens = u.PromptTokens + u.CompletionTokens
		}
		return u
	}

	return nil
}

// ParseBodyUsage extracts usage from a non-streaming JSON body at the
// conventional "usage" key. The Response API nests it under "response".
func ParseBodyUsage(body []byte) *gateway.UsageInfo {
	if u := ParseTokens(gjson.GetBytes(body, "usage")); u != nil {
		return u
	}
	return ParseTokens(gjson.GetBytes(body, "response.usage"))
}

// Float returns a pointer to v; shorthand for extractor cost channels.
func Float(v float64) *float64 { return &v }
