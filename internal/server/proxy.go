package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/accesslog"
)

// handleProxy runs the proxy pipeline. Success and upstream error responses
// are written by the pipeline; only gateway-level failures land here.
func (s *server) handleProxy(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Pipeline.Handle(w, r)
	if err == nil {
		return
	}
	status := errorStatus(err)
	if rec := accesslog.RecordFromContext(r.Context()); rec != nil {
		rec.ErrorMessage = err.Error()
	}
	if status >= http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "proxy failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, errorResponse(publicMessage(err, status)))
}

// publicMessage keeps upstream transport details out of client responses.
func publicMessage(err error, status int) string {
	switch {
	case errors.Is(err, gateway.ErrProviderDisabled):
		return "provider not enabled"
	case errors.Is(err, gateway.ErrPathNotAllowed):
		return "path not supported"
	case status >= http.StatusInternalServerError:
		return "upstream request failed"
	default:
		return err.Error()
	}
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrNotFound), errors.Is(err, gateway.ErrPathNotAllowed):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrProviderDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// avoids the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
