package openrouter

import (
	"net/http"
	"testing"

	"github.com/tidwall/gjson"
)

func TestPrepareRequestsAccounting(t *testing.T) {
	d := New("k", "", nil, nil)
	out, err := d.Prepare([]byte(`{"model": "openai/gpt-4o", "messages": []}`), true)
	if err != nil {
		t.Fatal(err)
	}
	if !gjson.GetBytes(out, "usage.include").Bool() {
		t.Errorf("usage.include not set: %s", out)
	}
}

func TestProviderCostUSD(t *testing.T) {
	d := New("k", "", nil, nil)

	body := []byte(`{"usage": {"prompt_tokens": 10, "completion_tokens": 5, "cost": 0.000025}}`)
	c := d.ProviderCostUSD(&http.Response{}, body)
	if c == nil || *c != 0.000025 {
		t.Fatalf("cost = %v", c)
	}

	if c := d.ProviderCostUSD(&http.Response{}, []byte(`{"usage": {"prompt_tokens": 10}}`)); c != nil {
		t.Errorf("cost = %v, want nil", *c)
	}
	// A non-numeric cost field is ignored.
	if c := d.ProviderCostUSD(&http.Response{}, []byte(`{"usage": {"cost": "free"}}`)); c != nil {
		t.Errorf("cost = %v, want nil", *c)
	}
}

func TestExtractorStreamCost(t *testing.T) {
	e := extractor{}

	obs := e.FromStreamEvent("", `{"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15, "cost": 0.000025}}`)
	if obs == nil || obs.Usage == nil || obs.CostUSD == nil {
		t.Fatalf("obs = %+v", obs)
	}
	if *obs.CostUSD != 0.000025 || obs.Usage.TotalTokens != 15 {
		t.Errorf("obs = %+v usage = %+v", obs, obs.Usage)
	}

	obs = e.FromStreamEvent("", `{"usage": {"prompt_tokens": 10, "completion_tokens": 5}}`)
	if obs == nil || obs.CostUSD != nil {
		t.Fatalf("obs = %+v", obs)
	}

	if obs := e.FromStreamEvent("", `{"choices": [{"delta": {}}]}`); obs != nil {
		t.Errorf("obs = %+v", obs)
	}
}
