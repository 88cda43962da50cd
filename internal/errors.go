package gateway

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrBadRequest       = errors.New("bad request")
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrProviderDisabled = errors.New("provider not enabled")
	ErrPathNotAllowed   = errors.New("path not allowed for provider")
	ErrUpstream         = errors.New("upstream error")
)
