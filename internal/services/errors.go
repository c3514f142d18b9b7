package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dorrio/shopify-ucp-bridge/internal/shopify"
)

var (
	// ErrValidation indicates the backend rejected a create or update. The
	// wrapped message carries the backend's first user error verbatim.
	ErrValidation = errors.New("ucp: validation error")
	// ErrNotFound indicates an id resolved to no backend record.
	ErrNotFound = errors.New("ucp: not found")
	// ErrPrecondition indicates checkout completion was attempted while
	// required buyer data is missing.
	ErrPrecondition = errors.New("ucp: precondition failed")
	// ErrBackend indicates the backend call failed before producing a usable
	// result. Never retried here; surfaced to the transport layer as-is.
	ErrBackend = errors.New("ucp: backend error")
)

// PreconditionError names the fields blocking checkout completion.
type PreconditionError struct {
	Missing []string
}

// Error implements the error interface, naming every missing field.
func (e *PreconditionError) Error() string {
	if e == nil || len(e.Missing) == 0 {
		return ErrPrecondition.Error()
	}
	return fmt.Sprintf("checkout completion requires %s", strings.Join(e.Missing, " and "))
}

// Unwrap ties the error into the shared taxonomy for errors.Is dispatch.
func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// translateBackendError maps Admin API error categories onto the service
// taxonomy. Anything uncategorised is a backend failure.
func translateBackendError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *shopify.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message())
		case apiErr.IsInvalid():
			return fmt.Errorf("%w: %s", ErrValidation, apiErr.Message())
		default:
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrBackend, err)
}

// userErrorsFailure surfaces a non-empty userErrors array as a validation
// failure carrying the first entry's message.
func userErrorsFailure(op string, userErrors []shopify.UserError) error {
	return translateBackendError(shopify.NewUserErrorsError(op, userErrors))
}
