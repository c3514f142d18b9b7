package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dorrio/shopify-ucp-bridge/internal/platform/httpx"
	"github.com/dorrio/shopify-ucp-bridge/internal/platform/pagination"
	"github.com/dorrio/shopify-ucp-bridge/internal/services"
)

const maxCartBodySize = 64 * 1024

var (
	errBodyTooLarge     = errors.New("request body too large")
	errEmptyBody        = errors.New("request body is required")
	errNoEditableFields = errors.New("no editable fields provided")
)

// CartHandlers exposes the cart lifecycle endpoints.
type CartHandlers struct {
	carts     services.CartService
	formatter *services.Formatter
}

// NewCartHandlers constructs cart handlers rendering responses through the
// shared protocol formatter.
func NewCartHandlers(carts services.CartService, formatter *services.Formatter) *CartHandlers {
	if formatter == nil {
		formatter = services.NewFormatter(nil)
	}
	return &CartHandlers{
		carts:     carts,
		formatter: formatter,
	}
}

// Routes wires the /carts endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createCart)
	r.Get("/", h.listCarts)
	r.Get("/{cartID}", h.getCart)
	r.Put("/{cartID}", h.replaceCart)
	r.Delete("/{cartID}", h.deleteCart)
}

func (h *CartHandlers) createCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	req, err := parseCartRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cart, err := h.carts.Create(ctx, services.CartCommand{
		LineItems: services.NormalizeLineItems(req.lineItems, req.currency),
		Buyer:     req.buyer,
		Currency:  req.currency,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, h.formatter.Cart(cart))
}

func (h *CartHandlers) listCarts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.carts.List(ctx, services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	items := make([]services.CartResponse, 0, len(page.Items))
	for _, cart := range page.Items {
		items = append(items, h.formatter.Cart(cart))
	}

	httpx.WriteJSON(w, http.StatusOK, cartListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cartID := strings.TrimSpace(chi.URLParam(r, "cartID"))
	if cartID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.Get(ctx, cartID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.formatter.Cart(cart))
}

func (h *CartHandlers) replaceCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cartID := strings.TrimSpace(chi.URLParam(r, "cartID"))
	if cartID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	req, err := parseCartRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cart, err := h.carts.Update(ctx, cartID, services.CartCommand{
		LineItems: services.NormalizeLineItems(req.lineItems, req.currency),
		Buyer:     req.buyer,
		Currency:  req.currency,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.formatter.Cart(cart))
}

func (h *CartHandlers) deleteCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cartID := strings.TrimSpace(chi.URLParam(r, "cartID"))
	if cartID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart id is required", http.StatusBadRequest))
		return
	}

	deleted, err := h.carts.Delete(ctx, cartID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, cartDeleteResponse{ID: cartID, Deleted: deleted})
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrBackend):
		httpx.WriteError(ctx, w, httpx.NewError("backend_error", "backend request failed", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

type cartListResponse struct {
	Items         []services.CartResponse `json:"items"`
	NextPageToken string                  `json:"next_page_token,omitempty"`
}

type cartDeleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type cartRequest struct {
	currency  string
	lineItems []services.IncomingLineItem
	buyer     *services.Buyer
}

func parseCartRequest(body []byte) (cartRequest, error) {
	var req cartRequest
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
		default:
			return req, fmt.Errorf("unknown field %q", key)
		}
	}

	return req, nil
}

type buyerInput struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

func (b buyerInput) toBuyer() *services.Buyer {
	buyer := services.Buyer{
		Email:     strings.TrimSpace(b.Email),
		FirstName: strings.TrimSpace(b.FirstName),
		LastName:  strings.TrimSpace(b.LastName),
		Phone:     strings.TrimSpace(b.Phone),
	}
	if buyer == (services.Buyer{}) {
		return nil
	}
	return &buyer
}

type addressInput struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Company      string `json:"company"`
	Address1     string `json:"address1"`
	Address2     string `json:"address2"`
	City         string `json:"city"`
	ProvinceCode string `json:"province_code"`
	CountryCode  string `json:"country_code"`
	Zip          string `json:"zip"`
	Phone        string `json:"phone"`
}

func (a addressInput) toAddress() *services.Address {
	address := services.Address{
		FirstName:    strings.TrimSpace(a.FirstName),
		LastName:     strings.TrimSpace(a.LastName),
		Company:      strings.TrimSpace(a.Company),
		Address1:     strings.TrimSpace(a.Address1),
		Address2:     strings.TrimSpace(a.Address2),
		City:         strings.TrimSpace(a.City),
		ProvinceCode: strings.TrimSpace(a.ProvinceCode),
		CountryCode:  strings.TrimSpace(a.CountryCode),
		Zip:          strings.TrimSpace(a.Zip),
		Phone:        strings.TrimSpace(a.Phone),
	}
	if address.Empty() {
		return nil
	}
	return &address
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxCartBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func isJSONNull(value json.RawMessage) bool {
	return strings.EqualFold(strings.TrimSpace(string(value)), "null")
}
