package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Call performs the upstream HTTP exchange for a driver. It builds the
// target URL from baseURL + spec.Path + spec.Query, sends the prepared body,
// and lets setAuth inject provider-specific credentials. The response is
// returned for any status code; only transport failures yield an error.
// The caller owns resp.Body.
func Call(ctx context.Context, client *http.Client, name, baseURL string, spec ForwardSpec, setAuth func(*http.Request)) (*http.Response, error) {
	target := baseURL + spec.Path
	if enc := spec.Query.Encode(); enc != "" {
		target += "?" + enc
	}

	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", name, err)
	}
	if len(spec.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if spec.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if setAuth != nil {
		setAuth(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: do request: %w", name, err)
	}
	return resp, nil
}
