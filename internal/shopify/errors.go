package shopify

import (
	"fmt"
	"strings"
)

// UserError is the structured rejection Shopify mutations return instead of
// failing the whole request.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// APIError categorises Admin API failures for the service layer. Services
// never inspect HTTP or GraphQL details directly; they branch on the boolean
// category methods.
type APIError struct {
	op         string
	err        error
	message    string
	userErrors []UserError
	notFound   bool
	invalid    bool
	throttled  bool
	transport  bool
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.message
	if msg == "" && e.err != nil {
		msg = e.err.Error()
	}
	if e.op != "" {
		return fmt.Sprintf("shopify: %s: %s", e.op, msg)
	}
	return "shopify: " + msg
}

// Unwrap returns the underlying error when one exists.
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Message returns the first user-facing message carried by the error.
func (e *APIError) Message() string {
	if e == nil {
		return ""
	}
	if len(e.userErrors) > 0 {
		return e.userErrors[0].Message
	}
	return e.message
}

// UserErrors exposes the full rejection list for diagnostics.
func (e *APIError) UserErrors() []UserError {
	if e == nil {
		return nil
	}
	return e.userErrors
}

// IsNotFound reports whether the id resolved to no backend record.
func (e *APIError) IsNotFound() bool { return e != nil && e.notFound }

// IsInvalid reports whether the backend rejected the input.
func (e *APIError) IsInvalid() bool { return e != nil && e.invalid }

// IsThrottled reports whether the backend rate-limited the call.
func (e *APIError) IsThrottled() bool { return e != nil && e.throttled }

// IsTransport reports whether the call failed before a usable response.
func (e *APIError) IsTransport() bool { return e != nil && e.transport }

// NewNotFoundError builds the not-found category for the given operation.
func NewNotFoundError(op, message string) *APIError {
	return &APIError{op: op, message: message, notFound: true}
}

// NewUserErrorsError surfaces a non-empty userErrors array as an invalid-input
// failure. The first entry's message becomes the caller-facing text.
func NewUserErrorsError(op string, userErrors []UserError) *APIError {
	message := ""
	if len(userErrors) > 0 {
		message = strings.TrimSpace(userErrors[0].Message)
	}
	return &APIError{op: op, message: message, userErrors: userErrors, invalid: true}
}

// NewTransportError wraps network or protocol failures reaching the backend.
func NewTransportError(op string, err error) *APIError {
	return &APIError{op: op, err: err, transport: true}
}

// NewThrottledError marks a rate-limited call. Retrying is the caller's
// decision; the client itself never retries.
func NewThrottledError(op, message string) *APIError {
	return &APIError{op: op, message: message, throttled: true, transport: true}
}

func newGraphQLError(op string, errs []graphQLError) *APIError {
	message := ""
	throttled := false
	for i, gqlErr := range errs {
		if i == 0 {
			message = strings.TrimSpace(gqlErr.Message)
		}
		if strings.EqualFold(gqlErr.Extensions.Code, "THROTTLED") {
			throttled = true
		}
	}
	if message == "" {
		message = "graphql request failed"
	}
	return &APIError{op: op, message: message, throttled: throttled, transport: true}
}
