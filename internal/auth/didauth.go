// Package auth implements DIDAuthV1 authentication for the farebox gateway.
// The Authorization header carries a multibase base64url JSON envelope; a
// pluggable Verifier checks the signature and resolves the caller's DID.
// Verified tokens are cached in a W-TinyLFU cache keyed by token digest.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/farebox-io/farebox/internal"
)

const (
	// Scheme is the Authorization scheme for DID-signed requests.
	Scheme = "DIDAuthV1"

	// multibase prefix for base64url without padding.
	multibasePrefix = 'u'

	cacheTTL    = 60 * time.Second // bounded replay window; matches signature freshness
	cacheMaxLen = 10_000

	maxTokenLen = 8 * 1024
)

// Verifier checks a decoded DIDAuthV1 envelope and resolves the signer.
// Implementations are expected to validate the signature against the DID
// document's verification methods.
type Verifier interface {
	Verify(ctx context.Context, envelope []byte) (*gateway.DIDInfo, error)
}

// DIDAuth authenticates requests carrying DIDAuthV1 Authorization headers.
type DIDAuth struct {
	verifier Verifier
	cache    *otter.Cache[string, *gateway.DIDInfo]
}

// New returns a DIDAuth backed by verifier.
func New(verifier Verifier) (*DIDAuth, error) {
	c, err := otter.New(&otter.Options[string, *gateway.DIDInfo]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *gateway.DIDInfo](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &DIDAuth{verifier: verifier, cache: c}, nil
}

var _ gateway.Authenticator = (*DIDAuth)(nil)

// Authenticate extracts and verifies the DIDAuthV1 token from the
// Authorization header. Malformed or unverifiable tokens return
// gateway.ErrUnauthorized.
func (a *DIDAuth) Authenticate(ctx context.Context, r *http.Request) (*gateway.DIDInfo, error) {
	token, err := TokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	digest := tokenDigest(token)
	if info, ok := a.cache.GetIfPresent(digest); ok {
		return info, nil
	}

	envelope, err := DecodeToken(token)
	if err != nil {
		return nil, err
	}

	info, err := a.verifier.Verify(ctx, envelope)
	if err != nil {
		return nil, err
	}
	if info == nil || info.DID == "" {
		return nil, gateway.ErrUnauthorized
	}

	a.cache.Set(digest, info)
	return info, nil
}

// TokenFromHeader pulls the multibase token out of an Authorization header
// value. The expected form is "DIDAuthV1 u<base64url-json>".
func TokenFromHeader(authz string) (string, error) {
	if authz == "" {
		return "", gateway.ErrUnauthorized
	}
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, Scheme) {
		return "", gateway.ErrUnauthorized
	}
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenLen {
		return "", gateway.ErrUnauthorized
	}
	return token, nil
}

// DecodeToken decodes a multibase base64url token into the raw JSON
// envelope. Only the 'u' (base64url, no padding) multibase prefix is
// accepted.
func DecodeToken(token string) ([]byte, error) {
	if token[0] != multibasePrefix {
		return nil, fmt.Errorf("%w: unsupported multibase prefix %q", gateway.ErrUnauthorized, token[0])
	}
	envelope, err := base64.RawURLEncoding.DecodeString(token[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: decode token: %v", gateway.ErrUnauthorized, err)
	}
	return envelope, nil
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
