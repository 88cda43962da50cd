// Package accesslog emits one structured record per gateway request.
// Records never include prompt or completion payloads.
package accesslog

import (
	"context"
	"log/slog"
	"time"
)

// Record is the per-request access log entry. Pointer fields are omitted
// when the request never produced the value (uncosted requests, requests
// rejected before provider resolution).
type Record struct {
	RequestID   string `json:"request_id"`
	ClientTxRef string `json:"client_tx_ref,omitempty"`
	ServerTxRef string `json:"server_tx_ref,omitempty"`
	DID         string `json:"did,omitempty"`

	Method   string `json:"method"`
	Path     string `json:"path"`
	Query    string `json:"query,omitempty"`
	IsStream bool   `json:"is_stream"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	InputTokens  *int `json:"input_tokens,omitempty"`
	OutputTokens *int `json:"output_tokens,omitempty"`
	TotalTokens  *int `json:"total_tokens,omitempty"`

	TotalCostUSD   *float64 `json:"total_cost_usd,omitempty"`
	PicoUSD        *int64   `json:"pico_usd,omitempty"`
	PricingSource  string   `json:"pricing_source,omitempty"`
	PricingVersion string   `json:"pricing_version,omitempty"`

	StatusCode      int    `json:"status_code"`
	DurationMs      int64  `json:"duration_ms"`
	Truncated       bool   `json:"truncated,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	RequestBodySize int64  `json:"request_body_size"`

	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Referer   string `json:"referer,omitempty"`

	UpstreamRequestID  string `json:"upstream_request_id,omitempty"`
	UpstreamStatus     int    `json:"upstream_status,omitempty"`
	UpstreamErrorCode  string `json:"upstream_error_code,omitempty"`
	UpstreamErrorType  string `json:"upstream_error_type,omitempty"`
	UpstreamDurationMs int64  `json:"upstream_duration_ms,omitempty"`

	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
}

// Emitter writes access log records through a structured logger.
type Emitter struct {
	log *slog.Logger
}

// NewEmitter returns an Emitter writing through log.
func NewEmitter(log *slog.Logger) *Emitter {
	return &Emitter{log: log}
}

// Emit writes one record at info level. The caller guarantees exactly one
// call per request.
func (e *Emitter) Emit(rec *Record) {
	if e == nil || e.log == nil {
		return
	}
	e.log.LogAttrs(context.Background(), slog.LevelInfo, "access",
		slog.Any("access_log", rec),
		slog.Time("ts", time.Now()),
	)
}
