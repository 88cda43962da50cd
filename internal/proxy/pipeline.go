// Package proxy implements the request pipeline: provider resolution,
// request shaping, upstream forwarding (buffered or streamed with a usage
// tee), cost finalization, and the billing handoff.
package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/accesslog"
	"github.com/farebox-io/farebox/internal/pricing"
	"github.com/farebox-io/farebox/internal/provider"
	"github.com/farebox-io/farebox/internal/telemetry"
)

const (
	maxRequestBody  = 10 << 20
	maxResponseBody = 32 << 20 // cap bulk responses; streams are unbounded

	streamChunkSize = 32 * 1024
)

// LedgerSink receives one finalized record per billable request.
// Implementations must not block; the worker recorder buffers internally.
type LedgerSink interface {
	Record(rec gateway.LedgerRecord)
}

// Pipeline executes proxied LLM requests end to end.
type Pipeline struct {
	registry *provider.Registry
	pricing  *pricing.Registry
	metrics  *telemetry.Metrics
	ledger   LedgerSink
	log      *slog.Logger
}

// Config assembles a Pipeline. Metrics and Ledger may be nil.
type Config struct {
	Registry *provider.Registry
	Pricing  *pricing.Registry
	Metrics  *telemetry.Metrics
	Ledger   LedgerSink
	Logger   *slog.Logger
}

// New returns a Pipeline.
func New(cfg Config) *Pipeline {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		registry: cfg.Registry,
		pricing:  cfg.Pricing,
		metrics:  cfg.Metrics,
		ledger:   cfg.Ledger,
		log:      log,
	}
}

// Handle proxies one request. Errors map to HTTP statuses at the server
// layer via the gateway sentinel chain; upstream 4xx/5xx responses are not
// errors and are relayed verbatim.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	rec := accesslog.RecordFromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return fmt.Errorf("%w: read request body: %v", gateway.ErrBadRequest, err)
	}
	if len(body) > maxRequestBody {
		return fmt.Errorf("%w: request body exceeds %d bytes", gateway.ErrBadRequest, maxRequestBody)
	}

	entry, path, err := p.registry.Resolve(r)
	if err != nil {
		return err
	}
	d := entry.Driver
	name := entry.Config.Name

	stream := isStream(path, r.URL.Query(), body)
	model := requestModel(path, body)
	if rec != nil {
		rec.Provider = name
		rec.Model = model
		rec.IsStream = stream
		rec.RequestBodySize = int64(len(body))
	}

	prepared := body
	if len(body) > 0 {
		prepared, err = d.Prepare(body, stream)
		if err != nil {
			return fmt.Errorf("%w: %v", gateway.ErrBadRequest, err)
		}
	}

	spec := provider.ForwardSpec{
		Path:   path,
		Method: r.Method,
		Query:  r.URL.Query(),
		Body:   prepared,
		Stream: stream,
	}

	upstreamStart := time.Now()
	resp, err := d.Forward(ctx, spec)
	if err != nil {
		if p.metrics != nil {
			p.metrics.UpstreamErrors.WithLabelValues(name, "transport").Inc()
		}
		return fmt.Errorf("%w: %s: %v", gateway.ErrUpstream, name, err)
	}
	defer resp.Body.Close()

	upstreamDur := time.Since(upstreamStart)
	if rec != nil {
		rec.UpstreamStatus = resp.StatusCode
		rec.UpstreamRequestID = resp.Header.Get("X-Request-Id")
		rec.UpstreamDurationMs = upstreamDur.Milliseconds()
	}
	if p.metrics != nil {
		p.metrics.UpstreamDuration.WithLabelValues(name, model).Observe(upstreamDur.Seconds())
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return p.relayUpstreamError(w, rec, name, resp)
	}
	if stream {
		return p.relayStream(w, r, rec, entry, model, resp)
	}
	return p.relayResponse(w, r, rec, entry, model, resp)
}

// relayUpstreamError forwards an upstream error response verbatim. The
// request is uncosted; billing stays zero.
func (p *Pipeline) relayUpstreamError(w http.ResponseWriter, rec *accesslog.Record, name string, resp *http.Response) error {
	if p.metrics != nil {
		p.metrics.UpstreamErrors.WithLabelValues(name, fmt.Sprint(resp.StatusCode)).Inc()
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		p.log.Debug("read upstream error body", "provider", name, "error", err)
	}
	apiErr := provider.ParseAPIError(name, resp.StatusCode, body)
	if rec != nil {
		rec.UpstreamErrorCode = apiErr.Code
		rec.UpstreamErrorType = apiErr.Type
		rec.ErrorMessage = apiErr.Message
	}
	p.log.Debug("upstream error relayed", "error", apiErr)
	mirrorHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		p.log.Debug("relay upstream error body", "provider", name, "error", err)
	}
	return nil
}

// relayResponse handles the buffered (non-streaming) path: read the whole
// upstream body, extract usage, finalize cost, then forward bytes verbatim.
func (p *Pipeline) relayResponse(w http.ResponseWriter, r *http.Request,
	rec *accesslog.Record, entry *provider.Entry, model string, resp *http.Response) error {

	d := entry.Driver
	name := entry.Config.Name

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %v", gateway.ErrUpstream, name, err)
	}

	u := d.NewExtractor().FromResponseBody(respBody)
	providerCost := d.ProviderCostUSD(resp, respBody)
	cost := p.pricing.CalculateRequestCost(name, model, providerCost, u)

	p.finalize(r, rec, name, model, cost, u, false)

	mirrorHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(respBody); err != nil {
		p.log.Debug("write response", "provider", name, "error", err)
	}
	return nil
}

// relayStream handles the streaming path: every upstream chunk goes to the
// client and into the usage processor in one pass, flushed per chunk. The
// client sees bytes identical to what the upstream produced.
func (p *Pipeline) relayStream(w http.ResponseWriter, r *http.Request,
	rec *accesslog.Record, entry *provider.Entry, model string, resp *http.Response) error {

	d := entry.Driver
	name := entry.Config.Name

	proc := d.NewProcessor(model, d.ProviderCostUSD(resp, nil))

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)

	truncated := false
	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			// Tee first so usage survives a client disconnect.
			proc.Write(buf[:n]) //nolint:errcheck // never fails
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Client went away; release the upstream and finalize
				// with whatever usage accumulated.
				truncated = true
				break
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				truncated = true
				if rec != nil {
					rec.ErrorMessage = readErr.Error()
				}
				p.log.Debug("upstream stream interrupted", "provider", name, "error", readErr)
			}
			break
		}
	}

	cost := proc.Finalize()
	p.finalize(r, rec, name, model, cost, proc.Usage(), truncated)
	return nil
}

// finalize converts the cost to picoUSD, hands it to the billing
// collaborator, fills the access log record, and enqueues the ledger row.
// Called exactly once per proxied request, always before the access log
// record is emitted.
func (p *Pipeline) finalize(r *http.Request, rec *accesslog.Record,
	name, model string, cost *gateway.PricingResult, u *gateway.UsageInfo, truncated bool) {

	ctx := r.Context()

	var pico int64
	if cost != nil {
		pico = pricing.RoundPico(cost.CostUSD)
		gateway.SetBilling(ctx, gateway.Billing{PicoUSD: pico, Cost: cost})
	} else if p.metrics != nil {
		p.metrics.UncostedRequests.WithLabelValues(name).Inc()
	}

	if rec != nil {
		rec.Truncated = truncated
		if u != nil {
			rec.InputTokens = intPtr(u.PromptTokens)
			rec.OutputTokens = intPtr(u.CompletionTokens)
			rec.TotalTokens = intPtr(u.TotalTokens)
		}
		if cost != nil {
			c := cost.CostUSD
			rec.TotalCostUSD = &c
			rec.PicoUSD = &pico
			rec.PricingSource = string(cost.Source)
			rec.PricingVersion = cost.PricingVersion
		}
	}

	if p.metrics != nil && u != nil {
		p.metrics.TokensProcessed.WithLabelValues(name, model, "prompt").Add(float64(u.PromptTokens))
		p.metrics.TokensProcessed.WithLabelValues(name, model, "completion").Add(float64(u.CompletionTokens))
	}
	if p.metrics != nil && cost != nil {
		p.metrics.CostPicoUSD.WithLabelValues(name, string(cost.Source)).Add(float64(pico))
	}

	if p.ledger != nil {
		lr := gateway.LedgerRecord{
			ID:          uuid.Must(uuid.NewV7()).String(),
			RequestID:   gateway.RequestIDFromContext(ctx),
			ClientTxRef: gateway.ClientTxRefFromContext(ctx),
			Provider:    name,
			Model:       model,
			PicoUSD:     pico,
			CreatedAt:   time.Now().UTC(),
		}
		if did := gateway.DIDFromContext(ctx); did != nil {
			lr.DID = did.DID
		}
		if rec != nil {
			lr.IsStream = rec.IsStream
			lr.StatusCode = rec.UpstreamStatus
			lr.DurationMs = int(rec.UpstreamDurationMs)
		}
		if u != nil {
			lr.PromptTokens = u.PromptTokens
			lr.CompletionTokens = u.CompletionTokens
			lr.TotalTokens = u.TotalTokens
		}
		if cost != nil {
			lr.CostUSD = cost.CostUSD
			lr.PricingSource = string(cost.Source)
		}
		p.ledger.Record(lr)
	}
}

// mirroredHeaders is the whitelisted subset of upstream response headers
// forwarded to clients on buffered responses.
var mirroredHeaders = []string{
	"Content-Type",
	"Cache-Control",
	"X-Ratelimit-Limit",
	"X-Ratelimit-Remaining",
}

func mirrorHeaders(dst, src http.Header) {
	for _, k := range mirroredHeaders {
		if v := src.Get(k); v != "" {
			dst.Set(k, v)
		}
	}
}

// isStream reports whether the request expects a streamed response: an
// explicit "stream": true in the body, a Gemini streamGenerateContent path,
// or an alt=sse query.
func isStream(path string, query url.Values, body []byte) bool {
	if gjson.GetBytes(body, "stream").Bool() {
		return true
	}
	if strings.Contains(path, ":streamGenerateContent") {
		return true
	}
	return query.Get("alt") == "sse"
}

// requestModel pulls the model name from the body, falling back to Gemini
// path forms like /v1beta/models/{model}:generateContent.
func requestModel(path string, body []byte) string {
	if m := gjson.GetBytes(body, "model").String(); m != "" {
		return m
	}
	const marker = "/models/"
	i := strings.Index(path, marker)
	if i < 0 {
		return ""
	}
	rest := path[i+len(marker):]
	if j := strings.IndexByte(rest, ':'); j >= 0 {
		rest = rest[:j]
	}
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func intPtr(v int) *int { return &v }
