package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/accesslog"
	"github.com/farebox-io/farebox/internal/pricing"
	"github.com/farebox-io/farebox/internal/provider"
	"github.com/farebox-io/farebox/internal/testutil"
)

func testRegistry(t *testing.T, d *testutil.FakeDriver) *provider.Registry {
	t.Helper()
	r := provider.NewRegistry(d.DriverName)
	cfg := gateway.ProviderConfig{Name: d.DriverName, APIKey: "k", RequiresAPIKey: true}
	if err := r.Register(cfg, d); err != nil {
		t.Fatal(err)
	}
	return r
}

func testPipeline(t *testing.T, d *testutil.FakeDriver, ledger LedgerSink) *Pipeline {
	t.Helper()
	reg, err := pricing.NewRegistry(pricing.Options{})
	if err != nil {
		t.Fatal(err)
	}
	d.Pricing = reg
	return New(Config{
		Registry: testRegistry(t, d),
		Pricing:  reg,
		Ledger:   ledger,
	})
}

// proxyRequest builds a request with the context plumbing the pipeline
// expects from the server middleware: a billing slot, a DID, a request id,
// and an access log record.
func proxyRequest(t *testing.T, method, target, body string) (*http.Request, *accesslog.Record) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)

	ctx := gateway.ContextWithRequestID(req.Context(), "req-1", "tx-1")
	ctx = gateway.ContextWithDID(ctx, &gateway.DIDInfo{DID: testutil.TestDID})
	rec := &accesslog.Record{}
	ctx = accesslog.ContextWithRecord(ctx, rec)
	return req.WithContext(ctx), rec
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestHandleBufferedCosted(t *testing.T) {
	upstreamBody := `{"id": "cmpl-1", "model": "gpt-4", "usage": {"prompt_tokens": 1000, "completion_tokens": 500, "total_tokens": 1500}}`
	d := &testutil.FakeDriver{
		DriverName: "openai",
		ForwardFn: func(_ context.Context, spec provider.ForwardSpec) (*http.Response, error) {
			return jsonResponse(http.StatusOK, upstreamBody), nil
		},
	}
	ledger := &testutil.FakeLedger{}
	p := testPipeline(t, d, ledger)

	req, rec := proxyRequest(t, http.MethodPost, "/api/v1/v1/chat/completions", `{"model": "gpt-4", "messages": []}`)
	w := httptest.NewRecorder()

	if err := p.Handle(w, req); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	// The client sees the upstream body verbatim.
	if w.Body.String() != upstreamBody {
		t.Errorf("body = %q", w.Body.String())
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}

	// Billing is set before the handler returns: gpt-4, 1000p+500c = 0.06 USD.
	b := gateway.BillingFromContext(req.Context())
	if b.Cost == nil {
		t.Fatal("billing not set")
	}
	if b.PicoUSD != 60_000_000_000 {
		t.Errorf("PicoUSD = %d, want 60000000000", b.PicoUSD)
	}
	if b.Cost.Source != gateway.SourceGateway {
		t.Errorf("Source = %q", b.Cost.Source)
	}

	if rec.Provider != "openai" || rec.Model != "gpt-4" || rec.IsStream {
		t.Errorf("rec = %+v", rec)
	}
	if rec.TotalTokens == nil || *rec.TotalTokens != 1500 {
		t.Errorf("TotalTokens = %v", rec.TotalTokens)
	}
	if rec.PicoUSD == nil || *rec.PicoUSD != 60_000_000_000 {
		t.Errorf("PicoUSD = %v", rec.PicoUSD)
	}

	records := ledger.Records()
	if len(records) != 1 {
		t.Fatalf("ledger records = %d", len(records))
	}
	lr := records[0]
	if lr.DID != testutil.TestDID || lr.RequestID != "req-1" || lr.ClientTxRef != "tx-1" {
		t.Errorf("ledger record = %+v", lr)
	}
	if lr.PicoUSD != 60_000_000_000 || lr.TotalTokens != 1500 {
		t.Errorf("ledger record = %+v", lr)
	}
}

func TestHandleStreamTee(t *testing.T) {
	stream := "data: {\"choices\": [{\"delta\": {\"content\": \"hi\"}}]}\n\n" +
		"data: {\"usage\": {\"prompt_tokens\": 1000, \"completion_tokens\": 500, \"total_tokens\": 1500}}\n\n" +
		"data: [DONE]\n\n"
	d := &testutil.FakeDriver{
		DriverName: "openai",
		ForwardFn: func(_ context.Context, spec provider.ForwardSpec) (*http.Response, error) {
			if !spec.Stream {
				t.Error("spec.Stream = false")
			}
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
				Body:       io.NopCloser(strings.NewReader(stream)),
			}, nil
		},
	}
	ledger := &testutil.FakeLedger{}
	p := testPipeline(t, d, ledger)

	req, rec := proxyRequest(t, http.MethodPost, "/api/v1/v1/chat/completions",
		`{"model": "gpt-4", "messages": [], "stream": true}`)
	w := httptest.NewRecorder()

	if err := p.Handle(w, req); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	// Byte-identical relay.
	if w.Body.String() != stream {
		t.Errorf("body = %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	b := gateway.BillingFromContext(req.Context())
	if b.Cost == nil || b.PicoUSD != 60_000_000_000 {
		t.Fatalf("billing = %+v", b)
	}
	if !rec.IsStream || rec.Truncated {
		t.Errorf("rec = %+v", rec)
	}
	if len(ledger.Records()) != 1 {
		t.Fatalf("ledger records = %d", len(ledger.Records()))
	}
}

func TestHandleStreamClientDisconnect(t *testing.T) {
	// Usage arrives before the chunk the client fails on, so billing still
	// reflects the tokens the upstream generated.
	stream := "data: {\"usage\": {\"prompt_tokens\": 1000, \"completion_tokens\": 500, \"total_tokens\": 1500}}\n\n" +
		"data: {\"choices\": []}\n\n"
	d := &testutil.FakeDriver{
		DriverName: "openai",
		ForwardFn: func(_ context.Context, _ provider.ForwardSpec) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{},
				Body:       io.NopCloser(iotest{r: strings.NewReader(stream)}),
			}, nil
		},
	}
	p := testPipeline(t, d, &testutil.FakeLedger{})

	req, rec := proxyRequest(t, http.MethodPost, "/api/v1/v1/chat/completions",
		`{"model": "gpt-4", "stream": true}`)
	w := &failingWriter{failAfter: 1}

	if err := p.Handle(w, req); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !rec.Truncated {
		t.Error("Truncated = false")
	}
	b := gateway.BillingFromContext(req.Context())
	if b.Cost == nil || b.PicoUSD != 60_000_000_000 {
		t.Fatalf("billing = %+v", b)
	}
}

// iotest delivers one SSE event per Read so the disconnect lands between
// chunks.
type iotest struct{ r *strings.Reader }

func (c iotest) Read(p []byte) (int, error) {
	line, err := readEvent(c.r)
	if err != nil {
		return 0, err
	}
	return copy(p, line), nil
}

func readEvent(r *strings.Reader) ([]byte, error) {
	var out []byte
	var blanks int
	for {
		b, err := r.ReadByte()
		if err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, err
		}
		out = append(out, b)
		if b == '\n' {
			blanks++
			if blanks == 2 {
				return out, nil
			}
		} else {
			blanks = 0
		}
	}
}

// failingWriter accepts failAfter writes, then errors.
type failingWriter struct {
	header    http.Header
	failAfter int
	writes    int
	status    int
}

func (f *failingWriter) Header() http.Header {
	if f.header == nil {
		f.header = http.Header{}
	}
	return f.header
}

func (f *failingWriter) WriteHeader(status int) { f.status = status }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	if f.writes > f.failAfter {
		return 0, errors.New("client gone")
	}
	return len(p), nil
}

func TestHandleUncosted(t *testing.T) {
	d := &testutil.FakeDriver{
		DriverName: "openrouter",
		ForwardFn: func(_ context.Context, _ provider.ForwardSpec) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"usage": {"prompt_tokens": 5, "completion_tokens": 5}}`), nil
		},
	}
	ledger := &testutil.FakeLedger{}
	p := testPipeline(t, d, ledger)

	req, rec := proxyRequest(t, http.MethodPost, "/api/v1/v1/chat/completions",
		`{"model": "unknown/model", "messages": []}`)
	w := httptest.NewRecorder()

	if err := p.Handle(w, req); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if b := gateway.BillingFromContext(req.Context()); b.Cost != nil || b.PicoUSD != 0 {
		t.Errorf("billing = %+v, want zero for uncosted", b)
	}
	if rec.PicoUSD != nil || rec.PricingSource != "" {
		t.Errorf("rec = %+v", rec)
	}
	// Tokens are still recorded and the ledger row lands with zero cost.
	if rec.TotalTokens == nil || *rec.TotalTokens != 10 {
		t.Errorf("TotalTokens = %v", rec.TotalTokens)
	}
	records := ledger.Records()
	if len(records) != 1 || records[0].PicoUSD != 0 {
		t.Fatalf("records = %+v", records)
	}
}

func TestHandleProviderCostPrecedence(t *testing.T) {
	cost := 0.000025
	d := &testutil.FakeDriver{
		DriverName: "openrouter",
		ForwardFn: func(_ context.Context, _ provider.ForwardSpec) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"usage": {"prompt_tokens": 5, "completion_tokens": 5}}`), nil
		},
		ProviderCostFn: func(_ *http.Response, _ []byte) *float64 { return &cost },
	}
	p := testPipeline(t, d, nil)

	req, _ := proxyRequest(t, http.MethodPost, "/api/v1/v1/chat/completions",
		`{"model": "unknown/model", "messages": []}`)
	w := httptest.NewRecorder()

	if err := p.Handle(w, req); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	b := gateway.BillingFromContext(req.Context())
	if b.Cost == nil || b.PicoUSD != 25_000_000 {
		t.Fatalf("billing = %+v", b)
	}
	if b.Cost.Source != gateway.SourceProvider {
		t.Errorf("Source = %q", b.Cost.Source)
	}
}

func TestHandleResolutionErrors(t *testing.T) {
	d := &testutil.FakeDriver{DriverName: "openai"}
	p := testPipeline(t, d, nil)

	t.Run("path outside allow-list", func(t *testing.T) {
		req, _ := proxyRequest(t, http.MethodPost, "/api/v1/v1/images/generations", `{}`)
		err := p.Handle(httptest.NewRecorder(), req)
		if !errors.Is(err, gateway.ErrPathNotAllowed) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("unknown provider header", func(t *testing.T) {
		req, _ := proxyRequest(t, http.MethodPost, "/api/v1/v1/chat/completions", `{}`)
		req.Header.Set("X-LLM-Provider", "mystral")
		err := p.Handle(httptest.NewRecorder(), req)
		if !errors.Is(err, gateway.ErrProviderDisabled) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("oversized request body", func(t *testing.T) {
		big := bytes.Repeat([]byte("x"), maxRequestBody+1)
		req, _ := proxyRequest(t, http.MethodPost, "/api/v1/v1/chat/completions", string(big))
		err := p.Handle(httptest.NewRecorder(), req)
		if !errors.Is(err, gateway.ErrBadRequest) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestHandleUpstreamErrorRelay(t *testing.T) {
	errBody := `{"error": {"message": "model overloaded", "type": "server_error"}}`
	d := &testutil.FakeDriver{
		DriverName: "openai",
		ForwardFn: func(_ context.Context, _ provider.ForwardSpec) (*http.Response, error) {
			resp := jsonResponse(http.StatusServiceUnavailable, errBody)
			resp.Header.Set("X-Ratelimit-Remaining", "0")
			return resp, nil
		},
	}
	ledger := &testutil.FakeLedger{}
	p := testPipeline(t, d, ledger)

	req, rec := proxyRequest(t, http.MethodPost, "/api/v1/v1/chat/completions",
		`{"model": "gpt-4", "messages": []}`)
	w := httptest.NewRecorder()

	if err := p.Handle(w, req); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
	if w.Body.String() != errBody {
		t.Errorf("body = %q", w.Body.String())
	}
	if w.Header().Get("X-Ratelimit-Remaining") != "0" {
		t.Error("rate limit header not mirrored")
	}
	// Failed upstream calls bill nothing and write no ledger row.
	if b := gateway.BillingFromContext(req.Context()); b.Cost != nil {
		t.Errorf("billing = %+v", b)
	}
	if len(ledger.Records()) != 0 {
		t.Errorf("records = %+v", ledger.Records())
	}
	if rec.UpstreamStatus != http.StatusServiceUnavailable {
		t.Errorf("UpstreamStatus = %d", rec.UpstreamStatus)
	}
	if rec.UpstreamErrorType != "server_error" || rec.ErrorMessage != "model overloaded" {
		t.Errorf("error fields = %q / %q", rec.UpstreamErrorType, rec.ErrorMessage)
	}
}

func TestHandleTransportFailure(t *testing.T) {
	d := &testutil.FakeDriver{
		DriverName: "openai",
		ForwardFn: func(_ context.Context, _ provider.ForwardSpec) (*http.Response, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	p := testPipeline(t, d, nil)

	req, _ := proxyRequest(t, http.MethodPost, "/api/v1/v1/chat/completions", `{"model": "gpt-4"}`)
	err := p.Handle(httptest.NewRecorder(), req)
	if !errors.Is(err, gateway.ErrUpstream) {
		t.Errorf("err = %v", err)
	}
}

func TestIsStream(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		query url.Values
		body  string
		want  bool
	}{
		{"body flag", "/v1/chat/completions", nil, `{"stream": true}`, true},
		{"body flag false", "/v1/chat/completions", nil, `{"stream": false}`, false},
		{"no flag", "/v1/chat/completions", nil, `{}`, false},
		{"gemini stream path", "/v1beta/models/g:streamGenerateContent", nil, `{}`, true},
		{"alt=sse", "/v1beta/models/g:generateContent", url.Values{"alt": {"sse"}}, `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isStream(tt.path, tt.query, []byte(tt.body)); got != tt.want {
				t.Errorf("isStream = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestModel(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{"body model", "/v1/chat/completions", `{"model": "gpt-4o"}`, "gpt-4o"},
		{"gemini path", "/v1beta/models/gemini-2.0-flash:generateContent", `{}`, "gemini-2.0-flash"},
		{"body wins over path", "/v1beta/models/x:generateContent", `{"model": "y"}`, "y"},
		{"no model", "/v1/embeddings", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requestModel(tt.path, []byte(tt.body)); got != tt.want {
				t.Errorf("requestModel = %q, want %q", got, tt.want)
			}
		})
	}
}
