package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dorrio/shopify-ucp-bridge/internal/platform/httpx"
	"github.com/dorrio/shopify-ucp-bridge/internal/services"
)

const maxCheckoutBodySize = 64 * 1024

// CheckoutHandlers exposes the checkout session lifecycle, including the
// order lookup for completed sessions.
type CheckoutHandlers struct {
	checkouts services.CheckoutService
	orders    services.OrderService
	formatter *services.Formatter
}

// NewCheckoutHandlers constructs checkout handlers. The order service backs
// the per-checkout order lookup and may be nil when that route is not served.
func NewCheckoutHandlers(checkouts services.CheckoutService, orders services.OrderService, formatter *services.Formatter) *CheckoutHandlers {
	if formatter == nil {
		formatter = services.NewFormatter(nil)
	}
	return &CheckoutHandlers{
		checkouts: checkouts,
		orders:    orders,
		formatter: formatter,
	}
}

// Routes wires the /checkouts endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createCheckout)
	r.Get("/{checkoutID}", h.getCheckout)
	r.Patch("/{checkoutID}", h.updateCheckout)
	r.Post("/{checkoutID}/complete", h.completeCheckout)
	r.Post("/{checkoutID}/cancel", h.cancelCheckout)
	r.Get("/{checkoutID}/order", h.getCheckoutOrder)
}

func (h *CheckoutHandlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkouts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	req, err := parseCheckoutRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	checkout, err := h.checkouts.Create(ctx, services.CheckoutCommand{
		LineItems:       services.NormalizeLineItems(req.lineItems, req.currency),
		Buyer:           req.buyer,
		ShippingAddress: req.shippingAddress,
		BillingAddress:  req.billingAddress,
		Currency:        req.currency,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, h.formatter.Checkout(checkout))
}

func (h *CheckoutHandlers) getCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkouts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	checkoutID := strings.TrimSpace(chi.URLParam(r, "checkoutID"))
	if checkoutID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout id is required", http.StatusBadRequest))
		return
	}

	checkout, err := h.checkouts.Get(ctx, checkoutID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.formatter.Checkout(checkout))
}

func (h *CheckoutHandlers) updateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkouts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	checkoutID := strings.TrimSpace(chi.URLParam(r, "checkoutID"))
	if checkoutID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	req, err := parseCheckoutUpdateRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.CheckoutUpdateCommand{
		Buyer:           req.buyer,
		ShippingAddress: req.shippingAddress,
		BillingAddress:  req.billingAddress,
	}
	if req.hasLineItems {
		cmd.LineItems = services.NormalizeLineItems(req.lineItems, "")
		cmd.HasLineItems = true
	}

	checkout, err := h.checkouts.Update(ctx, checkoutID, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.formatter.Checkout(checkout))
}

func (h *CheckoutHandlers) completeCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkouts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	checkoutID := strings.TrimSpace(chi.URLParam(r, "checkoutID"))
	if checkoutID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout id is required", http.StatusBadRequest))
		return
	}

	checkout, err := h.checkouts.Complete(ctx, checkoutID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.formatter.Checkout(checkout))
}

func (h *CheckoutHandlers) cancelCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkouts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	checkoutID := strings.TrimSpace(chi.URLParam(r, "checkoutID"))
	if checkoutID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout id is required", http.StatusBadRequest))
		return
	}

	checkout, err := h.checkouts.Cancel(ctx, checkoutID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.formatter.Checkout(checkout))
}

func (h *CheckoutHandlers) getCheckoutOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	checkoutID := strings.TrimSpace(chi.URLParam(r, "checkoutID"))
	if checkoutID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetByCheckoutID(ctx, checkoutID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "no order exists for this checkout", http.StatusNotFound))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.formatter.Order(*order))
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var precondition *services.PreconditionError
	switch {
	case errors.As(err, &precondition):
		envelope := httpx.NewError("precondition_failed", precondition.Error(), http.StatusConflict)
		if len(precondition.Missing) > 0 {
			envelope = envelope.WithDetails(map[string]any{"missing": precondition.Missing})
		}
		httpx.WriteError(ctx, w, envelope)
	case errors.Is(err, services.ErrPrecondition):
		httpx.WriteError(ctx, w, httpx.NewError("precondition_failed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_found", "checkout not found", http.StatusNotFound))
	case errors.Is(err, services.ErrBackend):
		httpx.WriteError(ctx, w, httpx.NewError("backend_error", "backend request failed", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

type checkoutRequest struct {
	currency        string
	lineItems       []services.IncomingLineItem
	buyer           *services.Buyer
	shippingAddress *services.Address
	billingAddress  *services.Address
}

func parseCheckoutRequest(body []byte) (checkoutRequest, error) {
	var req checkoutRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, errEmptyBody
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return req, errors.New("invalid JSON payload")
	}

	for key, value := range raw {
		switch key {
		case "ucp":
			// protocol envelope; carries no request data
		case "currency":
			if isJSONNull(value) {
				return req, errors.New("currency must be a string")
			}
			var currency string
			if err := json.Unmarshal(value, &currency); err != nil {
				return req, errors.New("currency must be a string")
			}
			currency = strings.TrimSpace(currency)
			if currency == "" {
				return req, errors.New("currency must not be empty")
			}
			req.currency = currency
		case "line_items":
			if isJSONNull(value) {
				continue
			}
			var items []services.IncomingLineItem
			if err := json.Unmarshal(value, &items); err != nil {
				return req, errors.New("line_items must be an array of line items")
			}
			req.lineItems = items
		case "buyer":
			if isJSONNull(value) {
				continue
			}
			var buyer buyerInput
			if err := json.Unmarshal(value, &buyer); err != nil {
				return req, errors.New("buyer must be an object")
			}
			req.buyer = buyer.toBuyer()
		case "fulfillment_address":
			if isJSONNull(value) {
				continue
			}
			var address addressInput
			if err := json.Unmarshal(value, &address); err != nil {
				return req, errors.New("fulfillment_address must be an object")
			}
			req.shippingAddress = address.toAddress()
		case "billing_address":
			if isJSONNull(value) {
				continue
			}
			var address addressInput
			if err := json.Unmarshal(value, &address); err != nil {
				return req, errors.New("billing_address must be an object")
			}
			req.billingAddress = address.toAddress()
		default:
			return req, fmt.Errorf("unknown field %q", key)
		}
	}

	return req, nil
}

type checkoutUpdateRequest struct {
	lineItems       []services.IncomingLineItem
	hasLineItems    bool
	buyer           *services.Buyer
	shippingAddress *services.Address
	billingAddress  *services.Address
}

func parseCheckoutUpdateRequest(body []byte) (checkoutUpdateRequest, error) {
	var req checkoutUpdateRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, errEmptyBody
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return req, errors.New("invalid JSON payload")
	}

	updateFields := 0
	for key, value := range raw {
		switch key {
		case "ucp":
			// protocol envelope; carries no request data
		case "line_items":
			if isJSONNull(value) {
				return req, errors.New("line_items must be an array of line items")
			}
			var items []services.IncomingLineItem
			if err := json.Unmarshal(value, &items); err != nil {
				return req, errors.New("line_items must be an array of line items")
			}
			req.lineItems = items
			req.hasLineItems = true
			updateFields++
		case "buyer":
			if isJSONNull(value) {
				return req, errors.New("buyer must be an object")
			}
			var buyer buyerInput
			if err := json.Unmarshal(value, &buyer); err != nil {
				return req, errors.New("buyer must be an object")
			}
			req.buyer = buyer.toBuyer()
			updateFields++
		case "fulfillment_address":
			if isJSONNull(value) {
				return req, errors.New("fulfillment_address must be an object")
			}
			var address addressInput
			if err := json.Unmarshal(value, &address); err != nil {
				return req, errors.New("fulfillment_address must be an object")
			}
			req.shippingAddress = address.toAddress()
			updateFields++
		case "billing_address":
			if isJSONNull(value) {
				return req, errors.New("billing_address must be an object")
			}
			var address addressInput
			if err := json.Unmarshal(value, &address); err != nil {
				return req, errors.New("billing_address must be an object")
			}
			req.billingAddress = address.toAddress()
			updateFields++
		default:
			return req, fmt.Errorf("field %q is not editable", key)
		}
	}

	if updateFields == 0 {
		return req, errNoEditableFields
	}

	return req, nil
}
