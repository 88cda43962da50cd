package openai

import (
	"github.com/tidwall/gjson"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/usage"
)

// extractor recognizes both OpenAI wire shapes. Chat Completions streams
// carry a terminal chunk with a top-level "usage" object (present only when
// stream_options.include_usage was requested, which Prepare guarantees).
// The Response API streams typed events; usage arrives on
// "response.completed" nested under "response.usage".
type extractor struct{}

var _ usage.Extractor = extractor{}

func (extractor) FromResponseBody(body []byte) *gateway.UsageInfo {
	return usage.ParseBodyUsage(body)
}

func (extractor) FromStreamEvent(event, data string) *usage.Observation {
	r := gjson.Parse(data)

	if event == "response.completed" || r.Get("type").String() == "response.completed" {
		u := usage.ParseTokens(r.Get("response.usage"))
		if u == nil {
			return &usage.Observation{Done: true}
		}
		return &usage.Observation{Usage: u, Done: true}
	}

	if u := usage.ParseTokens(r.Get("usage")); u != nil {
		return &usage.Observation{Usage: u}
	}
	return nil
}
