package services

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dorrio/shopify-ucp-bridge/internal/shopify"
)

func TestTranslateBackendErrorNotFound(t *testing.T) {
	err := translateBackendError(shopify.NewNotFoundError("draftOrder", "gid://shopify/DraftOrder/1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTranslateBackendErrorUserErrors(t *testing.T) {
	source := shopify.NewUserErrorsError("draftOrderCreate", []shopify.UserError{
		{Field: []string{"lineItems", "0", "variantId"}, Message: "Variant does not exist"},
		{Message: "second"},
	})

	err := translateBackendError(source)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), "Variant does not exist") {
		t.Fatalf("expected first user error message preserved, got %q", err.Error())
	}
}

func TestTranslateBackendErrorTransport(t *testing.T) {
	err := translateBackendError(shopify.NewTransportError("draftOrders", fmt.Errorf("dial tcp: connection refused")))
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
}

func TestTranslateBackendErrorThrottled(t *testing.T) {
	err := translateBackendError(shopify.NewThrottledError("orders", ""))
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected throttling to surface as ErrBackend, got %v", err)
	}
}

func TestTranslateBackendErrorUnknown(t *testing.T) {
	err := translateBackendError(errors.New("boom"))
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend for unknown errors, got %v", err)
	}
}

func TestTranslateBackendErrorNil(t *testing.T) {
	if err := translateBackendError(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestPreconditionErrorNamesFields(t *testing.T) {
	err := &PreconditionError{Missing: []string{preconditionBuyerEmail, preconditionShippingAddress}}
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected errors.Is to match ErrPrecondition")
	}
	want := "checkout completion requires buyer email and shipping address"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}

	var precondition *PreconditionError
	if !errors.As(err, &precondition) {
		t.Fatal("expected errors.As to recover PreconditionError")
	}
	if len(precondition.Missing) != 2 {
		t.Fatalf("expected two missing fields, got %v", precondition.Missing)
	}
}
