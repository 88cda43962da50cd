// Package provider implements the provider registry and the driver contract
// that normalizes heterogeneous upstream LLM APIs.
package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/farebox-io/farebox/internal/usage"
)

// ForwardSpec describes one upstream call.
type ForwardSpec struct {
	Path   string // provider-relative path, e.g. "/v1/chat/completions"
	Method string
	Query  url.Values
	Body   []byte
	Stream bool
}

// Driver adapts one upstream provider API. Implementations shape requests,
// perform the HTTPS call with provider-specific auth, and construct the
// usage extractor and stream processor for their wire format.
//
// Forward returns the upstream response for any HTTP status; the pipeline
// relays 4xx/5xx verbatim. Only transport failures return an error.
type Driver interface {
	Name() string
	SupportedPaths() []string
	// Prepare applies idempotent request shaping (usage-reporting flags,
	// message-format translation) to the raw JSON body.
	Prepare(body []byte, stream bool) ([]byte, error)
	Forward(ctx context.Context, spec ForwardSpec) (*http.Response, error)
	// ProviderCostUSD extracts a native USD cost from the response, when the
	// upstream quotes one. body may be nil for streaming responses, where
	// only headers are available up front.
	ProviderCostUSD(resp *http.Response, body []byte) *float64
	NewExtractor() usage.Extractor
	NewProcessor(model string, initialCostUSD *float64) *usage.Processor
}

// MatchPath reports whether path matches pattern. Pattern segments may embed
// {param} placeholders, including mid-segment forms like
// "/v1/models/{model}:generateContent". Placeholders match one or more
// characters within a single segment.
func MatchPath(pattern, path string) bool {
	ps := strings.Split(pattern, "/")
	ss := strings.Split(path, "/")
	if len(ps) != len(ss) {
		return false
	}
	for i := range ps {
		if !matchSegment(ps[i], ss[i]) {
			return false
		}
	}
	return true
}

// MatchAny reports whether path matches any of the patterns.
func MatchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if MatchPath(p, path) {
			return true
		}
	}
	return false
}

// matchSegment matches one path segment against a pattern segment that may
// mix literals and {param} placeholders.
func matchSegment(pat, seg string) bool {
	for {
		open := strings.IndexByte(pat, '{')
		if open < 0 {
			return pat == seg
		}
		// Literal prefix before the placeholder.
		if !strings.HasPrefix(seg, pat[:open]) {
			return false
		}
		seg = seg[open:]
		close := strings.IndexByte(pat, '}')
		if close < 0 {
			return false // malformed pattern
		}
		pat = pat[close+1:]

		// Literal run after the placeholder, up to the next placeholder.
		nextOpen := strings.IndexByte(pat, '{')
		lit := pat
		if nextOpen >= 0 {
			lit = pat[:nextOpen]
		}
		if lit == "" {
			if nextOpen < 0 {
				return seg != "" // trailing placeholder consumes the rest
			}
			return false // adjacent placeholders are ambiguous
		}
		idx := strings.Index(seg, lit)
		if idx < 1 { // placeholder must consume at least one character
			return false
		}
		seg = seg[idx+len(lit):]
		pat = pat[len(lit):]
		if pat == "" {
			return seg == ""
		}
	}
}
