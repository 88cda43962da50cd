// Package pricing implements the per-(provider, model) rate registry and the
// picoUSD conversion used for billing.
package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	gateway "github.com/farebox-io/farebox/internal"
)

const tokensPerMillion = 1e6

// snapshot is the immutable state readers see. Reload and UpdatePricing
// build a new snapshot and swap the pointer, so a reader always observes
// either the old or the new table, never a torn mix.
type snapshot struct {
	tables   map[string]map[string]gateway.ModelPricing
	families map[string][]familyRule
}

// Registry resolves model rates and computes request costs. Reads are
// lock-free after init.
type Registry struct {
	snap       atomic.Pointer[snapshot]
	multiplier float64
	version    string
	overrides  []byte // raw PRICING_OVERRIDES JSON, re-applied on Reload
}

// Options configures a Registry.
type Options struct {
	// Multiplier is the global markup applied to every final USD cost.
	// Zero means the default of 1.0; negative values are rejected.
	Multiplier float64
	// Version is embedded in every PricingResult and access log record.
	Version string
	// Overrides is a JSON object {"provider": {"model": ModelPricing}}
	// merged on top of the built-in tables.
	Overrides []byte
}

// NewRegistry builds a Registry from the built-in tables plus overrides.
func NewRegistry(opts Options) (*Registry, error) {
	m := opts.Multiplier
	if m == 0 {
		m = 1.0
	}
	if m < 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return nil, fmt.Errorf("pricing: multiplier must be a finite non-negative number, got %v", opts.Multiplier)
	}
	r := &Registry{multiplier: m, version: opts.Version, overrides: opts.Overrides}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the snapshot from the built-in tables and the configured
// overrides, then swaps it in atomically.
func (r *Registry) Reload() error {
	s := &snapshot{tables: defaultTables(), families: defaultFamilies()}
	if len(r.overrides) > 0 {
		var ov map[string]map[string]gateway.ModelPricing
		if err := json.Unmarshal(r.overrides, &ov); err != nil {
			return fmt.Errorf("pricing: parse overrides: %w", err)
		}
		for provider, models := range ov {
			t := s.tables[provider]
			if t == nil {
				t = make(map[string]gateway.ModelPricing, len(models))
				s.tables[provider] = t
			}
			for model, p := range models {
				if err := validateRates(p); err != nil {
					return fmt.Errorf("pricing: override %s/%s: %w", provider, model, err)
				}
				t[model] = p
			}
		}
	}
	r.snap.Store(s)
	return nil
}

// UpdatePricing sets the rate for one (provider, model) pair via
// copy-on-write snapshot swap.
func (r *Registry) UpdatePricing(provider, model string, p gateway.ModelPricing) error {
	if err := validateRates(p); err != nil {
		return fmt.Errorf("pricing: update %s/%s: %w", provider, model, err)
	}
	old := r.snap.Load()
	s := &snapshot{
		tables:   make(map[string]map[string]gateway.ModelPricing, len(old.tables)),
		families: old.families,
	}
	for name, t := range old.tables {
		nt := make(map[string]gateway.ModelPricing, len(t)+1)
		for k, v := range t {
			nt[k] = v
		}
		s.tables[name] = nt
	}
	t := s.tables[provider]
	if t == nil {
		t = make(map[string]gateway.ModelPricing, 1)
		s.tables[provider] = t
	}
	t[model] = p
	r.snap.Store(s)
	return nil
}

// Version returns the configured pricing version string.
func (r *Registry) Version() string { return r.version }

// Multiplier returns the global cost markup.
func (r *Registry) Multiplier() float64 { return r.multiplier }

// GetPricing returns the rate for a model: exact match first, then the
// longest matching family prefix. ok is false for unknown models.
func (r *Registry) GetPricing(provider, model string) (gateway.ModelPricing, bool) {
	s := r.snap.Load()
	t := s.tables[provider]
	if t == nil {
		return gateway.ModelPricing{}, false
	}
	if p, ok := t[model]; ok {
		return p, true
	}
	best := -1
	var base string
	for _, f := range s.families[provider] {
		if len(f.Prefix) > best && strings.HasPrefix(model, f.Prefix) {
			best = len(f.Prefix)
			base = f.Base
		}
	}
	if best < 0 {
		return gateway.ModelPricing{}, false
	}
	p, ok := t[base]
	return p, ok
}

// CalculateProviderCost prices usage from the local rate tables. It returns
// nil when the model is unknown, so the caller records the request as
// uncosted instead of failing it.
func (r *Registry) CalculateProviderCost(provider, model string, usage *gateway.UsageInfo) *gateway.PricingResult {
	if usage == nil {
		return nil
	}
	p, ok := r.GetPricing(provider, model)
	if !ok {
		return nil
	}
	cost := (float64(usage.PromptTokens)/tokensPerMillion*p.PromptPerMTok +
		float64(usage.CompletionTokens)/tokensPerMillion*p.CompletionPerMTok) * r.multiplier
	return &gateway.PricingResult{
		CostUSD:        cost,
		Source:         gateway.SourceGateway,
		PricingVersion: r.version,
		Model:          model,
		Usage:          usage,
	}
}

// CalculateRequestCost applies the cost precedence defined once for the whole
// gateway: a native provider USD quote wins; otherwise the local tables are
// consulted; otherwise nil (uncosted).
func (r *Registry) CalculateRequestCost(provider, model string, providerCostUSD *float64, usage *gateway.UsageInfo) *gateway.PricingResult {
	if providerCostUSD != nil {
		return &gateway.PricingResult{
			CostUSD:        *providerCostUSD * r.multiplier,
			Source:         gateway.SourceProvider,
			PricingVersion: r.version,
			Model:          model,
			Usage:          usage,
		}
	}
	return r.CalculateProviderCost(provider, model, usage)
}

func validateRates(p gateway.ModelPricing) error {
	for _, rate := range []float64{p.PromptPerMTok, p.CompletionPerMTok} {
		if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return fmt.Errorf("rate must be a finite non-negative number, got %v", rate)
		}
	}
	return nil
}
