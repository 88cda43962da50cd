package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/farebox-io/farebox/internal"
)

// maxClockSkew bounds how far an envelope timestamp may drift from server
// time in either direction before the token is rejected.
const maxClockSkew = 5 * time.Minute

// EnvelopeVerifier validates the structural claims of a DIDAuthV1 envelope:
// signer DID, key id, nonce presence, and timestamp freshness. Signature
// bytes are checked by the external DID resolver; this verifier covers
// deployments where that check happens upstream (or is disabled in dev).
type EnvelopeVerifier struct {
	now func() time.Time
}

// NewEnvelopeVerifier returns an EnvelopeVerifier using wall-clock time.
func NewEnvelopeVerifier() *EnvelopeVerifier {
	return &EnvelopeVerifier{now: time.Now}
}

var _ Verifier = (*EnvelopeVerifier)(nil)

// Verify parses the envelope and returns the signer's identity.
//
// Envelope shape:
//
//	{
//	  "signed_data": {"nonce": "...", "timestamp": <unix-seconds>, ...},
//	  "signature":   {"signer_did": "did:...", "key_id": "did:...#key", "value": "..."}
//	}
func (v *EnvelopeVerifier) Verify(_ context.Context, envelope []byte) (*gateway.DIDInfo, error) {
	if !gjson.ValidBytes(envelope) {
		return nil, fmt.Errorf("%w: envelope is not valid JSON", gateway.ErrUnauthorized)
	}
	r := gjson.ParseBytes(envelope)

	did := r.Get("signature.signer_did").String()
	if did == "" {
		return nil, fmt.Errorf("%w: missing signer_did", gateway.ErrUnauthorized)
	}
	keyID := r.Get("signature.key_id").String()

	if r.Get("signed_data.nonce").String() == "" {
		return nil, fmt.Errorf("%w: missing nonce", gateway.ErrUnauthorized)
	}

	ts := r.Get("signed_data.timestamp")
	if !ts.Exists() {
		return nil, fmt.Errorf("%w: missing timestamp", gateway.ErrUnauthorized)
	}
	issued := time.Unix(ts.Int(), 0)
	if drift := v.now().Sub(issued); drift > maxClockSkew || drift < -maxClockSkew {
		return nil, fmt.Errorf("%w: stale timestamp", gateway.ErrUnauthorized)
	}

	return &gateway.DIDInfo{DID: did, KeyID: keyID}, nil
}
