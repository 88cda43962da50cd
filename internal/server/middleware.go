package server

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/accesslog"
	"github.com/farebox-io/farebox/internal/ratelimit"

	"log/slog"
)

// statusWriterPool eliminates 1 alloc/req from &statusWriter{} escaping to heap.
// Reset fields on Get, nil ResponseWriter on Put to avoid retaining references.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

// recovery catches panics and returns 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

const (
	// Canonical MIME forms so direct map access skips header key
	// canonicalization on the hot path.
	requestIDHeader   = "X-Request-Id"
	clientTxRefHeader = "X-Client-Tx-Ref"

	maxRequestIDLen = 128
)

// requestID establishes the request identity: the client's X-Client-Tx-Ref
// when present and well-formed, otherwise a fresh UUID v7. The chosen value
// is echoed back as X-Request-Id.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var clientTxRef string
		if vals := r.Header[clientTxRefHeader]; len(vals) > 0 && isValidToken(vals[0], maxRequestIDLen) {
			clientTxRef = vals[0]
		}
		id := clientTxRef
		if id == "" {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := gateway.ContextWithRequestID(r.Context(), id, clientTxRef)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLogging attaches the access log record to the context and emits it
// exactly once, after the handler finishes. The pipeline sets billing before
// returning, so emission always observes the final cost.
func (s *server) accessLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &accesslog.Record{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
		}
		ctx := accesslog.ContextWithRecord(r.Context(), rec)

		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false

		next.ServeHTTP(sw, r.WithContext(ctx))

		rec.RequestID = gateway.RequestIDFromContext(ctx)
		rec.ClientTxRef = gateway.ClientTxRefFromContext(ctx)
		if did := gateway.DIDFromContext(ctx); did != nil {
			rec.DID = did.DID
		}
		rec.StatusCode = sw.status
		rec.DurationMs = time.Since(start).Milliseconds()
		rec.ClientIP = clientIP(r)
		rec.UserAgent = r.UserAgent()
		rec.Referer = r.Referer()
		rec.ResponseHeaders = responseHeaderSubset(sw.Header())

		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)

		if s.deps.AccessLog != nil {
			s.deps.AccessLog.Emit(rec)
		}
	})
}

// responseHeaderSubset captures the whitelisted response headers for the
// access log.
func responseHeaderSubset(h http.Header) map[string]string {
	out := make(map[string]string, 4)
	for _, k := range []string{"Content-Type", "Cache-Control", "X-Ratelimit-Limit", "X-Ratelimit-Remaining"} {
		if v := h.Get(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// authenticate validates the DIDAuthV1 header and injects DIDInfo into the
// context. When requestMeta already exists (set by requestID), the DID is
// stored by mutation -- no new context or request copy needed.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil {
			writeJSON(w, errorStatus(err), errorResponse("unauthorized"))
			return
		}
		ctx := gateway.ContextWithDID(r.Context(), info)
		if ctx == r.Context() {
			next.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// rateLimit enforces per-DID RPM and TPM budgets. The body is read once for
// the token estimate and reconstructed for the handler.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.RateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		did := gateway.DIDFromContext(r.Context())
		if did == nil {
			next.ServeHTTP(w, r)
			return
		}

		limiter := s.deps.RateLimiter.GetOrCreate(did.DID, s.deps.Limits)

		res := limiter.AllowRPM()
		if !res.Allowed {
			writeRateLimited(w, r, res, "rpm")
			return
		}

		if s.deps.Limits.TPM > 0 && r.Body != nil && r.Body != http.NoBody {
			body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse("failed to read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			estimate := int64(len(body) / 4)
			if s.deps.TokenCounter != nil {
				estimate = int64(s.deps.TokenCounter.EstimateRequest(body))
			}
			if tres := limiter.ConsumeTPM(estimate); !tres.Allowed {
				writeRateLimited(w, r, tres, "tpm")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, res ratelimit.Result, kind string) {
	w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfterSeconds)+1))
	w.Header().Set("X-Ratelimit-Limit", strconv.FormatInt(res.Limit, 10))
	w.Header().Set("X-Ratelimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	slog.LogAttrs(r.Context(), slog.LevelDebug, "rate limited",
		slog.String("kind", kind),
		slog.Int64("limit", res.Limit),
	)
	writeJSON(w, http.StatusTooManyRequests, errorResponse("rate limit exceeded"))
}

// clientIP strips the port from RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isValidToken checks that s is non-empty, at most maxLen bytes, and
// contains only [a-zA-Z0-9._-].
func isValidToken(s string, maxLen int) bool {
	if s == "" || len(s) > maxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// statusWriter wraps ResponseWriter to capture the HTTP status code.
// WriteHeader records only the first status code; subsequent calls are
// forwarded to the underlying writer but do not update the captured value,
// matching net/http semantics where only the first WriteHeader takes effect.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// Flush delegates to the underlying ResponseWriter if it implements http.Flusher.
// This ensures SSE streaming works through middleware.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter, allowing http.ResponseController
// and similar utilities to find interface implementations.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
