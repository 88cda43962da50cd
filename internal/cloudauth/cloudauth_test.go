package cloudauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

func TestAPIKeyTransport(t *testing.T) {
	var gotAuth, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("x-api-key")
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	t.Run("bearer prefix", func(t *testing.T) {
		c := &http.Client{Transport: &APIKeyTransport{
			Key:        "sk-1",
			HeaderName: "Authorization",
			Prefix:     "Bearer ",
		}}
		resp, err := c.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if gotAuth != "Bearer sk-1" {
			t.Errorf("Authorization = %q", gotAuth)
		}
	})

	t.Run("bare header", func(t *testing.T) {
		c := &http.Client{Transport: &APIKeyTransport{
			Key:        "sk-ant",
			HeaderName: "x-api-key",
		}}
		resp, err := c.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if gotKey != "sk-ant" {
			t.Errorf("x-api-key = %q", gotKey)
		}
	})
}

// The original request must not be mutated; retries and middleware above
// the transport see it untouched.
func TestAPIKeyTransportClonesRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	rt := &APIKeyTransport{Key: "k", HeaderName: "Authorization", Prefix: "Bearer "}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if req.Header.Get("Authorization") != "" {
		t.Error("original request mutated")
	}
}

func TestGCPOAuthTransport(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "gcp-token"})
	rt := newGCPOAuthTransportFromSource(nil, ts)

	c := &http.Client{Transport: rt}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer gcp-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}
