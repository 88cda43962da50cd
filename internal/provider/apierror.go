package provider

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// APIError is a structured upstream provider failure: the relayed status
// plus whatever the provider's error envelope carried. The body itself is
// forwarded to the client verbatim; this type feeds logging and the access
// log's upstream error fields.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
}

// HTTPStatus returns the upstream HTTP status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ParseAPIError builds an APIError from an upstream error body. All five
// providers wrap failures in an "error" object; OpenAI-family bodies carry
// "type" while Google carries a numeric or string "code", so both are read
// permissively and absent fields stay empty.
func ParseAPIError(provider string, statusCode int, body []byte) *APIError {
	return &APIError{
		Provider:   provider,
		StatusCode: statusCode,
		Code:       gjson.GetBytes(body, "error.code").String(),
		Type:       gjson.GetBytes(body, "error.type").String(),
		Message:    gjson.GetBytes(body, "error.message").String(),
	}
}
