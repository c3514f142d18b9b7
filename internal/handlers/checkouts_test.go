package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/dorrio/shopify-ucp-bridge/internal/domain"
	"github.com/dorrio/shopify-ucp-bridge/internal/services"
)

type stubCheckoutService struct {
	createFunc   func(ctx context.Context, cmd services.CheckoutCommand) (services.Checkout, error)
	getFunc      func(ctx context.Context, checkoutID string) (services.Checkout, error)
	updateFunc   func(ctx context.Context, checkoutID string, cmd services.CheckoutUpdateCommand) (services.Checkout, error)
	completeFunc func(ctx context.Context, checkoutID string) (services.Checkout, error)
	cancelFunc   func(ctx context.Context, checkoutID string) (services.Checkout, error)
}

func (s *stubCheckoutService) Create(ctx context.Context, cmd services.CheckoutCommand) (services.Checkout, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.Checkout{}, errors.New("not implemented")
}

func (s *stubCheckoutService) Get(ctx context.Context, checkoutID string) (services.Checkout, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, checkoutID)
	}
	return services.Checkout{}, errors.New("not implemented")
}

func (s *stubCheckoutService) Update(ctx context.Context, checkoutID string, cmd services.CheckoutUpdateCommand) (services.Checkout, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, checkoutID, cmd)
	}
	return services.Checkout{}, errors.New("not implemented")
}

func (s *stubCheckoutService) Complete(ctx context.Context, checkoutID string) (services.Checkout, error) {
	if s.completeFunc != nil {
		return s.completeFunc(ctx, checkoutID)
	}
	return services.Checkout{}, errors.New("not implemented")
}

func (s *stubCheckoutService) Cancel(ctx context.Context, checkoutID string) (services.Checkout, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, checkoutID)
	}
	return services.Checkout{}, errors.New("not implemented")
}

var _ services.CheckoutService = (*stubCheckoutService)(nil)

func checkoutRouter(handler *CheckoutHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/checkouts", handler.Routes)
	return router
}

func sampleCheckout(status domain.CheckoutStatus) services.Checkout {
	price := services.Money{Amount: "48.00", CurrencyCode: "USD"}
	expires := handlerClock.Add(24 * time.Hour)
	checkout := services.Checkout{
		ID:       "chk_01HZXVCC9QWERTY",
		Status:   status,
		Currency: "USD",
		LineItems: []services.LineItem{
			{
				ID:        "gid://shopify/DraftOrderLineItem/9",
				VariantID: "gid://shopify/ProductVariant/900",
				Quantity:  1,
				Price:     &price,
				Title:     "Gyokuro Gift Set",
			},
		},
		Totals: []services.Total{
			{Type: domain.TotalTypeSubtotal, Amount: services.Money{Amount: "48.00", CurrencyCode: "USD"}},
			{Type: domain.TotalTypeTotal, Amount: services.Money{Amount: "48.00", CurrencyCode: "USD"}},
		},
		ContinueURL: "https://shop.example.com/invoices/chk",
		CreatedAt:   handlerClock,
		ExpiresAt:   &expires,
	}
	if status == domain.CheckoutStatusIncomplete {
		checkout.Messages = []services.Message{
			{
				Type:     domain.MessageTypeError,
				Code:     "missing_buyer_email",
				Content:  "buyer email is required to complete this checkout",
				Severity: domain.SeverityRequiresBuyerInput,
				Field:    "buyer.email",
			},
		}
	}
	return checkout
}

func TestCheckoutHandlersCreateCheckout(t *testing.T) {
	service := &stubCheckoutService{
		createFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.Checkout, error) {
			if cmd.Currency != "USD" {
				t.Fatalf("expected currency USD, got %q", cmd.Currency)
			}
			if cmd.ShippingAddress == nil || cmd.ShippingAddress.CountryCode != "US" {
				t.Fatalf("expected shipping address, got %#v", cmd.ShippingAddress)
			}
			if cmd.Buyer == nil || cmd.Buyer.Email != "buyer@example.com" {
				t.Fatalf("expected buyer, got %#v", cmd.Buyer)
			}
			return sampleCheckout(domain.CheckoutStatusReadyForComplete), nil
		},
	}
	handler := NewCheckoutHandlers(service, nil, fixedFormatter())
	router := checkoutRouter(handler)

	body := `{
		"currency": "USD",
		"line_items": [{"item": {"id": "gid://shopify/ProductVariant/900", "price": 4800}, "quantity": 1}],
		"buyer": {"email": "buyer@example.com", "first_name": "Kaoru"},
		"fulfillment_address": {"first_name": "Kaoru", "address1": "1 Tea St", "city": "Portland", "province_code": "OR", "country_code": "US", "zip": "97201"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/checkouts", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp services.CheckoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(domain.CheckoutStatusReadyForComplete) {
		t.Fatalf("expected ready_for_complete, got %q", resp.Status)
	}
	if resp.UCP.Version != services.ProtocolVersion {
		t.Fatalf("expected protocol version, got %q", resp.UCP.Version)
	}
}

func TestCheckoutHandlersGetCheckoutIncludesMessages(t *testing.T) {
	service := &stubCheckoutService{
		getFunc: func(ctx context.Context, checkoutID string) (services.Checkout, error) {
			return sampleCheckout(domain.CheckoutStatusIncomplete), nil
		},
	}
	handler := NewCheckoutHandlers(service, nil, fixedFormatter())
	router := checkoutRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/checkouts/chk_01HZXVCC9QWERTY", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp services.CheckoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(domain.CheckoutStatusIncomplete) {
		t.Fatalf("expected incomplete, got %q", resp.Status)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Code != "missing_buyer_email" {
		t.Fatalf("expected missing buyer email message, got %#v", resp.Messages)
	}
}

func TestCheckoutHandlersUpdateCheckoutPartial(t *testing.T) {
	service := &stubCheckoutService{
		updateFunc: func(ctx context.Context, checkoutID string, cmd services.CheckoutUpdateCommand) (services.Checkout, error) {
			if checkoutID != "chk_01HZXVCC9QWERTY" {
				t.Fatalf("unexpected checkout id %q", checkoutID)
			}
			if cmd.HasLineItems {
				t.Fatalf("expected line items untouched")
			}
			if cmd.Buyer != nil {
				t.Fatalf("expected buyer untouched, got %#v", cmd.Buyer)
			}
			if cmd.ShippingAddress == nil || cmd.ShippingAddress.City != "Portland" {
				t.Fatalf("expected shipping address update, got %#v", cmd.ShippingAddress)
			}
			return sampleCheckout(domain.CheckoutStatusReadyForComplete), nil
		},
	}
	handler := NewCheckoutHandlers(service, nil, fixedFormatter())
	router := checkoutRouter(handler)

	body := `{"fulfillment_address": {"first_name": "Kaoru", "address1": "1 Tea St", "city": "Portland", "province_code": "OR", "country_code": "US", "zip": "97201"}}`
	req := httptest.NewRequest(http.MethodPatch, "/checkouts/chk_01HZXVCC9QWERTY", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutHandlersUpdateCheckoutReplacesLineItems(t *testing.T) {
	service := &stubCheckoutService{
		updateFunc: func(ctx context.Context, checkoutID string, cmd services.CheckoutUpdateCommand) (services.Checkout, error) {
			if !cmd.HasLineItems {
				t.Fatalf("expected line item replacement")
			}
			if len(cmd.LineItems) != 1 || cmd.LineItems[0].Quantity != 3 {
				t.Fatalf("expected one line item with quantity 3, got %#v", cmd.LineItems)
			}
			return sampleCheckout(domain.CheckoutStatusIncomplete), nil
		},
	}
	handler := NewCheckoutHandlers(service, nil, fixedFormatter())
	router := checkoutRouter(handler)

	body := `{"line_items": [{"variant_id": "gid://shopify/ProductVariant/900", "quantity": 3}]}`
	req := httptest.NewRequest(http.MethodPatch, "/checkouts/chk_01HZXVCC9QWERTY", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutHandlersUpdateCheckoutRejectsUneditableField(t *testing.T) {
	handler := NewCheckoutHandlers(&stubCheckoutService{}, nil, fixedFormatter())
	router := checkoutRouter(handler)

	req := httptest.NewRequest(http.MethodPatch, "/checkouts/chk_01", strings.NewReader(`{"currency": "EUR"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	envelope := decodeErrorEnvelope(t, rr.Body.Bytes())
	message, _ := envelope["message"].(string)
	if !strings.Contains(message, "not editable") {
		t.Fatalf("expected not editable message, got %q", message)
	}
}

func TestCheckoutHandlersUpdateCheckoutRequiresEditableField(t *testing.T) {
	handler := NewCheckoutHandlers(&stubCheckoutService{}, nil, fixedFormatter())
	router := checkoutRouter(handler)

	req := httptest.NewRequest(http.MethodPatch, "/checkouts/chk_01", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersCompleteCheckout(t *testing.T) {
	service := &stubCheckoutService{
		completeFunc: func(ctx context.Context, checkoutID string) (services.Checkout, error) {
			checkout := sampleCheckout(domain.CheckoutStatusCompleted)
			checkout.ExpiresAt = nil
			checkout.Order = &services.OrderRef{
				ID:           "gid://shopify/Order/5001",
				PermalinkURL: "https://shop.example.com/orders/5001",
			}
			return checkout, nil
		},
	}
	handler := NewCheckoutHandlers(service, nil, fixedFormatter())
	router := checkoutRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/checkouts/chk_01HZXVCC9QWERTY/complete", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp services.CheckoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(domain.CheckoutStatusCompleted) {
		t.Fatalf("expected completed, got %q", resp.Status)
	}
	if resp.Order == nil || resp.Order.ID != "gid://shopify/Order/5001" {
		t.Fatalf("expected order reference, got %#v", resp.Order)
	}
	if resp.ExpiresAt != "" {
		t.Fatalf("expected no expiry on terminal checkout, got %q", resp.ExpiresAt)
	}
}

func TestCheckoutHandlersCompleteCheckoutPreconditionFailure(t *testing.T) {
	service := &stubCheckoutService{
		completeFunc: func(ctx context.Context, checkoutID string) (services.Checkout, error) {
			return services.Checkout{}, &services.PreconditionError{
				Missing: []string{"buyer email", "shipping address"},
			}
		},
	}
	handler := NewCheckoutHandlers(service, nil, fixedFormatter())
	router := checkoutRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/checkouts/chk_01/complete", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	envelope := decodeErrorEnvelope(t, rr.Body.Bytes())
	if envelope["error"] != "precondition_failed" {
		t.Fatalf("expected precondition_failed, got %v", envelope["error"])
	}
	message, _ := envelope["message"].(string)
	if !strings.Contains(message, "shipping address") {
		t.Fatalf("expected message to name shipping address, got %q", message)
	}
	missing, ok := envelope["missing"].([]any)
	if !ok || len(missing) != 2 {
		t.Fatalf("expected missing detail with two entries, got %#v", envelope["missing"])
	}
}

func TestCheckoutHandlersCancelCheckout(t *testing.T) {
	service := &stubCheckoutService{
		cancelFunc: func(ctx context.Context, checkoutID string) (services.Checkout, error) {
			checkout := sampleCheckout(domain.CheckoutStatusCanceled)
			checkout.ExpiresAt = nil
			return checkout, nil
		},
	}
	handler := NewCheckoutHandlers(service, nil, fixedFormatter())
	router := checkoutRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/checkouts/chk_01HZXVCC9QWERTY/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp services.CheckoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(domain.CheckoutStatusCanceled) {
		t.Fatalf("expected canceled, got %q", resp.Status)
	}
	if resp.ExpiresAt != "" {
		t.Fatalf("expected no expiry on canceled checkout, got %q", resp.ExpiresAt)
	}
}

func TestCheckoutHandlersCancelCheckoutNotFound(t *testing.T) {
	service := &stubCheckoutService{
		cancelFunc: func(ctx context.Context, checkoutID string) (services.Checkout, error) {
			return services.Checkout{}, fmt.Errorf("%w: checkout %q", services.ErrNotFound, checkoutID)
		},
	}
	handler := NewCheckoutHandlers(service, nil, fixedFormatter())
	router := checkoutRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/checkouts/chk_gone/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	envelope := decodeErrorEnvelope(t, rr.Body.Bytes())
	if envelope["error"] != "checkout_not_found" {
		t.Fatalf("expected checkout_not_found, got %v", envelope["error"])
	}
}

func TestCheckoutHandlersGetCheckoutOrder(t *testing.T) {
	service := &stubOrderService{
		getByCheckoutFunc: func(ctx context.Context, checkoutID string) (*services.Order, error) {
			if checkoutID != "chk_01HZXVCC9QWERTY" {
				t.Fatalf("unexpected checkout id %q", checkoutID)
			}
			order := sampleOrder()
			return &order, nil
		},
	}
	handler := NewCheckoutHandlers(&stubCheckoutService{}, service, fixedFormatter())
	router := checkoutRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/checkouts/chk_01HZXVCC9QWERTY/order", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp services.OrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.CheckoutID != "chk_01HZXVCC9QWERTY" {
		t.Fatalf("expected checkout id on order, got %q", resp.CheckoutID)
	}
}

func TestCheckoutHandlersGetCheckoutOrderMissing(t *testing.T) {
	service := &stubOrderService{
		getByCheckoutFunc: func(ctx context.Context, checkoutID string) (*services.Order, error) {
			return nil, nil
		},
	}
	handler := NewCheckoutHandlers(&stubCheckoutService{}, service, fixedFormatter())
	router := checkoutRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/checkouts/chk_01/order", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	envelope := decodeErrorEnvelope(t, rr.Body.Bytes())
	if envelope["error"] != "order_not_found" {
		t.Fatalf("expected order_not_found, got %v", envelope["error"])
	}
}
