package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gateway "github.com/farebox-io/farebox/internal"
)

func envelopeToken(signerDID, nonce string, ts int64) string {
	envelope := fmt.Sprintf(
		`{"signed_data": {"nonce": %q, "timestamp": %d}, "signature": {"signer_did": %q, "key_id": "%s#key-1", "value": "sig"}}`,
		nonce, ts, signerDID, signerDID)
	return "u" + base64.RawURLEncoding.EncodeToString([]byte(envelope))
}

func TestTokenFromHeader(t *testing.T) {
	tests := []struct {
		name    string
		authz   string
		want    string
		wantErr bool
	}{
		{"valid", "DIDAuthV1 uABC", "uABC", false},
		{"scheme is case-insensitive", "didauthv1 uABC", "uABC", false},
		{"empty header", "", "", true},
		{"wrong scheme", "Bearer uABC", "", true},
		{"scheme only", "DIDAuthV1", "", true},
		{"blank token", "DIDAuthV1   ", "", true},
		{"oversized token", "DIDAuthV1 u" + strings.Repeat("A", maxTokenLen+1), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TokenFromHeader(tt.authz)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, gateway.ErrUnauthorized) {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeToken(t *testing.T) {
	payload := []byte(`{"a": 1}`)
	token := "u" + base64.RawURLEncoding.EncodeToString(payload)
	got, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("envelope = %q", got)
	}

	if _, err := DecodeToken("zABC"); !errors.Is(err, gateway.ErrUnauthorized) {
		t.Errorf("unsupported prefix err = %v", err)
	}
	if _, err := DecodeToken("u!!!not-base64!!!"); !errors.Is(err, gateway.ErrUnauthorized) {
		t.Errorf("bad base64 err = %v", err)
	}
}

func TestEnvelopeVerifier(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := &EnvelopeVerifier{now: func() time.Time { return now }}
	ctx := context.Background()

	envelope := func(did, nonce string, ts int64) []byte {
		return []byte(fmt.Sprintf(
			`{"signed_data": {"nonce": %q, "timestamp": %d}, "signature": {"signer_did": %q, "key_id": "%s#key-1"}}`,
			nonce, ts, did, did))
	}

	t.Run("valid envelope", func(t *testing.T) {
		info, err := v.Verify(ctx, envelope("did:example:alice", "n1", now.Unix()))
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if info.DID != "did:example:alice" || info.KeyID != "did:example:alice#key-1" {
			t.Errorf("info = %+v", info)
		}
	})

	t.Run("skew within bounds", func(t *testing.T) {
		if _, err := v.Verify(ctx, envelope("did:example:alice", "n1", now.Add(-4*time.Minute).Unix())); err != nil {
			t.Errorf("past-but-fresh: %v", err)
		}
		if _, err := v.Verify(ctx, envelope("did:example:alice", "n1", now.Add(4*time.Minute).Unix())); err != nil {
			t.Errorf("future-but-fresh: %v", err)
		}
	})

	t.Run("rejections", func(t *testing.T) {
		bad := [][]byte{
			[]byte(`not json`),
			envelope("", "n1", now.Unix()),
			envelope("did:example:alice", "", now.Unix()),
			[]byte(`{"signed_data": {"nonce": "n1"}, "signature": {"signer_did": "did:example:alice"}}`),
			envelope("did:example:alice", "n1", now.Add(-6*time.Minute).Unix()),
			envelope("did:example:alice", "n1", now.Add(6*time.Minute).Unix()),
		}
		for i, env := range bad {
			if _, err := v.Verify(ctx, env); !errors.Is(err, gateway.ErrUnauthorized) {
				t.Errorf("envelope %d: err = %v, want ErrUnauthorized", i, err)
			}
		}
	})
}

// countingVerifier counts Verify calls to observe the token cache.
type countingVerifier struct {
	calls int
	err   error
}

func (c *countingVerifier) Verify(_ context.Context, envelope []byte) (*gateway.DIDInfo, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &gateway.DIDInfo{DID: "did:example:alice"}, nil
}

func TestAuthenticate(t *testing.T) {
	cv := &countingVerifier{}
	a, err := New(cv)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	token := envelopeToken("did:example:alice", "n1", time.Now().Unix())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/v1/chat/completions", nil)
	req.Header.Set("Authorization", Scheme+" "+token)

	info, err := a.Authenticate(ctx, req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if info.DID != "did:example:alice" {
		t.Errorf("DID = %q", info.DID)
	}

	// The second pass with the same token hits the cache.
	if _, err := a.Authenticate(ctx, req); err != nil {
		t.Fatal(err)
	}
	if cv.calls != 1 {
		t.Errorf("verifier calls = %d, want 1", cv.calls)
	}

	t.Run("missing header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if _, err := a.Authenticate(ctx, r); !errors.Is(err, gateway.ErrUnauthorized) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("verifier rejection is not cached", func(t *testing.T) {
		rej := &countingVerifier{err: gateway.ErrUnauthorized}
		a2, err := New(rej)
		if err != nil {
			t.Fatal(err)
		}
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", Scheme+" "+envelopeToken("did:example:bob", "n2", time.Now().Unix()))
		for range 2 {
			if _, err := a2.Authenticate(ctx, r); !errors.Is(err, gateway.ErrUnauthorized) {
				t.Fatalf("err = %v", err)
			}
		}
		if rej.calls != 2 {
			t.Errorf("verifier calls = %d, want 2", rej.calls)
		}
	})
}
