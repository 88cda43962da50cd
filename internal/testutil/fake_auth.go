// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"net/http"

	gateway "github.com/farebox-io/farebox/internal"
)

// TestDID is the caller identity returned by FakeAuth.
const TestDID = "did:example:alice"

// FakeAuth always authenticates successfully.
type FakeAuth struct{}

// Authenticate returns a fixed test identity.
func (FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*gateway.DIDInfo, error) {
	return &gateway.DIDInfo{DID: TestDID, KeyID: TestDID + "#key-1"}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*gateway.DIDInfo, error) {
	return nil, gateway.ErrUnauthorized
}
