package usage

import (
	"log/slog"

	"github.com/tidwall/gjson"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/pricing"
	"github.com/farebox-io/farebox/internal/provider/sseutil"
)

// Mode selects how streamed usage observations combine.
type Mode int

const (
	// ModeOverwrite keeps the last observation. For upstreams that emit a
	// single terminal usage object (OpenAI, OpenRouter, LiteLLM).
	ModeOverwrite Mode = iota
	// ModeCumulativeMax keeps the per-field maximum. For upstreams that
	// stream cumulative totals (Claude, Google); retransmitted or
	// overlapping events can never double-count.
	ModeCumulativeMax
)

// State is the processor lifecycle.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateFinalized
)

// Processor is the per-request streaming usage accumulator. It is owned by
// exactly one request and invoked synchronously from the proxy tee, so it
// needs no locking. It implements io.Writer: the pipeline writes every
// upstream chunk into it while relaying the same bytes to the client.
type Processor struct {
	provider  string
	model     string
	mode      Mode
	extractor Extractor
	pricing   *pricing.Registry

	initialCost   *float64 // per-request provider cost known up front (LiteLLM header)
	extractedCost *float64 // running USD cost seen in-stream (OpenRouter)
	acc           *gateway.UsageInfo
	state         State
	final         *gateway.PricingResult

	feed *sseutil.Feed
}

// Config assembles a Processor.
type Config struct {
	Provider       string
	Model          string
	Mode           Mode
	Extractor      Extractor
	Pricing        *pricing.Registry
	InitialCostUSD *float64
}

// NewProcessor returns a Processor in StateIdle.
func NewProcessor(cfg Config) *Processor {
	p := &Processor{
		provider:    cfg.Provider,
		model:       cfg.Model,
		mode:        cfg.Mode,
		extractor:   cfg.Extractor,
		pricing:     cfg.Pricing,
		initialCost: cfg.InitialCostUSD,
	}
	p.feed = sseutil.NewFeed(p.Observe)
	return p
}

// Write feeds raw upstream bytes into the SSE parser. It never fails:
// chunk parse errors are soft and must not abort forwarding.
func (p *Processor) Write(b []byte) (int, error) {
	return p.feed.Write(b)
}

// Observe processes one SSE payload. Invalid JSON is skipped.
func (p *Processor) Observe(event, data string) {
	if p.state == StateFinalized {
		return
	}
	if data == "[DONE]" {
		p.finalize()
		return
	}
	if !gjson.Valid(data) {
		slog.Debug("skipping unparsable stream chunk",
			"provider", p.provider, "len", len(data))
		return
	}

	obs := p.extractor.FromStreamEvent(event, data)
	if obs == nil {
		return
	}
	if obs.Usage != nil {
		p.state = StateAccumulating
		p.accumulate(obs.Usage)
	}
	if obs.CostUSD != nil {
		p.state = StateAccumulating
		p.extractedCost = obs.CostUSD
	}
	if obs.Done {
		p.finalize()
	}
}

// accumulate merges one usage observation according to the mode.
func (p *Processor) accumulate(u *gateway.UsageInfo) {
	if p.acc == nil || p.mode == ModeOverwrite {
		cp := *u
		p.acc = &cp
		return
	}
	if u.PromptTokens > p.acc.PromptTokens {
		p.acc.PromptTokens = u.PromptTokens
	}
	if u.CompletionTokens > p.acc.CompletionTokens {
		p.acc.CompletionTokens = u.CompletionTokens
	}
	if u.TotalTokens > p.acc.TotalTokens {
		p.acc.TotalTokens = u.TotalTokens
	}
	if sum := p.acc.PromptTokens + p.acc.CompletionTokens; p.acc.TotalTokens < sum {
		p.acc.TotalTokens = sum
	}
}

// Finalize transitions to StateFinalized and computes the final cost with
// the precedence: in-stream cost, then initial per-request provider cost,
// then the gateway rate tables, then nil (uncosted). Called by the pipeline
// when the upstream body ends; idempotent, so an in-band terminal marker
// ([DONE], message_stop) and end-of-body together finalize once.
func (p *Processor) Finalize() *gateway.PricingResult {
	p.feed.Close()
	p.finalize()
	return p.final
}

func (p *Processor) finalize() {
	if p.state == StateFinalized {
		return
	}
	p.state = StateFinalized

	cost := p.extractedCost
	if cost == nil {
		cost = p.initialCost
	}
	p.final = p.pricing.CalculateRequestCost(p.provider, p.model, cost, p.acc)
}

// Usage returns the accumulated usage so far (nil before any observation).
func (p *Processor) Usage() *gateway.UsageInfo { return p.acc }

// State returns the current lifecycle state.
func (p *Processor) State() State { return p.state }
