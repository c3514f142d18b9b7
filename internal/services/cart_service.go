package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/dorrio/shopify-ucp-bridge/internal/domain"
	"github.com/dorrio/shopify-ucp-bridge/internal/platform/pagination"
	"github.com/dorrio/shopify-ucp-bridge/internal/shopify"
)

var (
	errCartBackendRequired = errors.New("cart service: backend executor is required")
	errCartClockRequired   = errors.New("cart service: clock is required")
)

// CartServiceDeps wires the backend executor and ambient dependencies for cart operations.
type CartServiceDeps struct {
	Backend         shopify.Executor
	Clock           func() time.Time
	DefaultCurrency string
	TTL             time.Duration
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	backend  shopify.Executor
	newID    func() string
	now      func() time.Time
	currency string
	ttl      time.Duration
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Backend == nil {
		return nil, errCartBackendRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = DefaultCurrency
	}

	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		backend:  deps.Backend,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: currency,
		ttl:      ttl,
		logger:   logger,
	}, nil
}

// Create opens a new cart by writing a draft order tagged with a fresh public id.
func (s *cartService) Create(ctx context.Context, cmd CartCommand) (Cart, error) {
	if s == nil || s.backend == nil {
		return Cart{}, fmt.Errorf("%w: cart service not initialised", ErrBackend)
	}

	cartID := cartIDPrefix + s.newID()
	params := draftOrderParams{
		LineItems:    cmd.LineItems,
		HasLineItems: true,
		Tags:         []string{cartScopeTag, cartID},
	}
	if email := buyerEmail(cmd.Buyer); email != "" {
		params.Email = &email
	}

	payload, err := fetchRoot[shopify.DraftOrderCreatePayload](ctx, s.backend, shopify.DraftOrderCreateMutation, map[string]any{
		"input": draftOrderInput(params),
	}, "draftOrderCreate")
	if err != nil {
		return Cart{}, err
	}
	if len(payload.UserErrors) > 0 {
		return Cart{}, userErrorsFailure("draftOrderCreate", payload.UserErrors)
	}
	if payload.DraftOrder == nil {
		return Cart{}, fmt.Errorf("%w: draftOrderCreate returned no draft order", ErrBackend)
	}

	s.logger(ctx, "cart.created", map[string]any{"cartID": cartID, "backendID": payload.DraftOrder.ID})
	return s.mapCart(*payload.DraftOrder), nil
}

// Get resolves the cart id and projects the backing draft order.
func (s *cartService) Get(ctx context.Context, cartID string) (Cart, error) {
	if s == nil || s.backend == nil {
		return Cart{}, fmt.Errorf("%w: cart service not initialised", ErrBackend)
	}

	draft, err := findDraftByToken(ctx, s.backend, strings.TrimSpace(cartID), cartIDPrefix)
	if err != nil {
		return Cart{}, err
	}
	return s.mapCart(draft), nil
}

// Update replaces the cart contents with the supplied desired state.
func (s *cartService) Update(ctx context.Context, cartID string, cmd CartCommand) (Cart, error) {
	if s == nil || s.backend == nil {
		return Cart{}, fmt.Errorf("%w: cart service not initialised", ErrBackend)
	}

	draft, err := findDraftByToken(ctx, s.backend, strings.TrimSpace(cartID), cartIDPrefix)
	if err != nil {
		return Cart{}, err
	}

	params := draftOrderParams{
		LineItems:    cmd.LineItems,
		HasLineItems: true,
	}
	if email := buyerEmail(cmd.Buyer); email != "" {
		params.Email = &email
	}

	payload, err := fetchRoot[shopify.DraftOrderUpdatePayload](ctx, s.backend, shopify.DraftOrderUpdateMutation, map[string]any{
		"id":    draft.ID,
		"input": draftOrderInput(params),
	}, "draftOrderUpdate")
	if err != nil {
		return Cart{}, err
	}
	if len(payload.UserErrors) > 0 {
		return Cart{}, userErrorsFailure("draftOrderUpdate", payload.UserErrors)
	}
	if payload.DraftOrder == nil {
		return Cart{}, fmt.Errorf("%w: draftOrderUpdate returned no draft order", ErrBackend)
	}
	return s.mapCart(*payload.DraftOrder), nil
}

// Delete removes the backing draft order. The boolean reports whether a
// record was actually deleted.
func (s *cartService) Delete(ctx context.Context, cartID string) (bool, error) {
	if s == nil || s.backend == nil {
		return false, fmt.Errorf("%w: cart service not initialised", ErrBackend)
	}

	draft, err := findDraftByToken(ctx, s.backend, strings.TrimSpace(cartID), cartIDPrefix)
	if err != nil {
		return false, err
	}

	payload, err := fetchRoot[shopify.DraftOrderDeletePayload](ctx, s.backend, shopify.DraftOrderDeleteMutation, map[string]any{
		"input": map[string]any{"id": draft.ID},
	}, "draftOrderDelete")
	if err != nil {
		return false, err
	}
	if len(payload.UserErrors) > 0 {
		return false, userErrorsFailure("draftOrderDelete", payload.UserErrors)
	}

	s.logger(ctx, "cart.deleted", map[string]any{"cartID": cartID, "backendID": payload.DeletedID})
	return true, nil
}

// List pages through carts owned by this service, newest first per backend order.
func (s *cartService) List(ctx context.Context, pager Pagination) (domain.CursorPage[Cart], error) {
	if s == nil || s.backend == nil {
		return domain.CursorPage[Cart]{}, fmt.Errorf("%w: cart service not initialised", ErrBackend)
	}

	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[Cart]{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	variables := map[string]any{
		"first": pageSize(pager.PageSize),
		"query": tagQuery(cartScopeTag),
	}
	if cursor.After != "" {
		variables["after"] = cursor.After
	}

	conn, err := fetchRoot[shopify.Connection[shopify.DraftOrder]](ctx, s.backend, shopify.DraftOrdersQuery, variables, "draftOrders")
	if err != nil {
		return domain.CursorPage[Cart]{}, err
	}

	page := domain.CursorPage[Cart]{}
	for _, node := range conn.Nodes() {
		page.Items = append(page.Items, s.mapCart(node))
	}
	if conn.PageInfo.HasNextPage && conn.PageInfo.EndCursor != "" {
		token, err := pagination.EncodeToken(pagination.Cursor{After: conn.PageInfo.EndCursor})
		if err != nil {
			return domain.CursorPage[Cart]{}, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// mapCart projects a backend draft order into the cart shape.
func (s *cartService) mapCart(draft shopify.DraftOrder) Cart {
	currency := draft.CurrencyCode
	if currency == "" {
		currency = s.currency
	}

	created := draft.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	expiry := created.Add(s.ttl)

	return Cart{
		ID:          tokenFromTags(draft.Tags, cartIDPrefix, draft.ID),
		LineItems:   lineItemsFromDraft(draft.LineItems, currency),
		Currency:    currency,
		Totals:      draftTotals(draft, false),
		Buyer:       buyerFromBackend(draft.Customer, draft.Email),
		ContinueURL: draft.InvoiceURL,
		CreatedAt:   created,
		ExpiresAt:   &expiry,
	}
}
