package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/dorrio/shopify-ucp-bridge/internal/domain"
	"github.com/dorrio/shopify-ucp-bridge/internal/shopify"
)

var errCheckoutBackendRequired = errors.New("checkout service: backend executor is required")

// Diagnostic message codes emitted on checkout reads.
const (
	messageCodeMissingEmail    = "missing_buyer_email"
	messageCodeMissingShipping = "missing_shipping_address"
	messageCodeEmptyCart       = "empty_cart"
	messageCodeEscalation      = "escalation_required"
	messageCodeCanceled        = "checkout_canceled"
)

// JSONPath pointers identifying which request field resolves a message.
const (
	fieldBuyerEmail      = "$.buyer.email"
	fieldShippingAddress = "$.fulfillment_address"
	fieldLineItems       = "$.line_items"
)

// Completion precondition names surfaced through PreconditionError.
const (
	preconditionBuyerEmail      = "buyer email"
	preconditionShippingAddress = "shipping address"
)

// CheckoutServiceDeps wires the backend executor and ambient dependencies for checkout operations.
type CheckoutServiceDeps struct {
	Backend         shopify.Executor
	Clock           func() time.Time
	DefaultCurrency string
	TTL             time.Duration
	Logger          func(ctx context.Context, event string, fields map[string]any)
	IDGenerator     func() string
}

type checkoutService struct {
	backend  shopify.Executor
	newID    func() string
	now      func() time.Time
	currency string
	ttl      time.Duration
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Backend == nil {
		return nil, errCheckoutBackendRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
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

	return &checkoutService{
		backend: deps.Backend,
		newID:   idGen,
		now: func() time.Time {
			return clock().UTC()
		},
		currency: currency,
		ttl:      ttl,
		logger:   logger,
	}, nil
}

// Create opens a checkout session by writing a draft order tagged with a
// fresh public id. Status and messages are derived from the created record.
func (s *checkoutService) Create(ctx context.Context, cmd CheckoutCommand) (Checkout, error) {
	if s == nil || s.backend == nil {
		return Checkout{}, fmt.Errorf("%w: checkout service not initialised", ErrBackend)
	}

	checkoutID := checkoutIDPrefix + s.newID()
	params := draftOrderParams{
		LineItems:       cmd.LineItems,
		HasLineItems:    true,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.BillingAddress,
		Tags:            []string{checkoutScopeTag, checkoutID},
	}
	if email := buyerEmail(cmd.Buyer); email != "" {
		params.Email = &email
	}

	payload, err := fetchRoot[shopify.DraftOrderCreatePayload](ctx, s.backend, shopify.DraftOrderCreateMutation, map[string]any{
		"input": draftOrderInput(params),
	}, "draftOrderCreate")
	if err != nil {
		return Checkout{}, err
	}
	if len(payload.UserErrors) > 0 {
		return Checkout{}, userErrorsFailure("draftOrderCreate", payload.UserErrors)
	}
	if payload.DraftOrder == nil {
		return Checkout{}, fmt.Errorf("%w: draftOrderCreate returned no draft order", ErrBackend)
	}

	s.logger(ctx, "checkout.created", map[string]any{"checkoutID": checkoutID, "backendID": payload.DraftOrder.ID})
	return s.mapCheckout(*payload.DraftOrder), nil
}

// Get resolves the checkout id and projects the backing draft order with
// freshly derived status, messages, and expiry.
func (s *checkoutService) Get(ctx context.Context, checkoutID string) (Checkout, error) {
	if s == nil || s.backend == nil {
		return Checkout{}, fmt.Errorf("%w: checkout service not initialised", ErrBackend)
	}

	draft, err := findDraftByToken(ctx, s.backend, strings.TrimSpace(checkoutID), checkoutIDPrefix)
	if err != nil {
		return Checkout{}, err
	}
	return s.mapCheckout(draft), nil
}

// Update applies a partial mutation. Only fields carried by the command reach
// the backend; everything else keeps its current value.
func (s *checkoutService) Update(ctx context.Context, checkoutID string, cmd CheckoutUpdateCommand) (Checkout, error) {
	if s == nil || s.backend == nil {
		return Checkout{}, fmt.Errorf("%w: checkout service not initialised", ErrBackend)
	}

	draft, err := findDraftByToken(ctx, s.backend, strings.TrimSpace(checkoutID), checkoutIDPrefix)
	if err != nil {
		return Checkout{}, err
	}
	if draft.Completed() {
		return Checkout{}, fmt.Errorf("%w: checkout %s is already completed", ErrValidation, checkoutID)
	}

	params := draftOrderParams{
		LineItems:       cmd.LineItems,
		HasLineItems:    cmd.HasLineItems,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.BillingAddress,
	}
	if email := buyerEmail(cmd.Buyer); email != "" {
		params.Email = &email
	}

	payload, err := fetchRoot[shopify.DraftOrderUpdatePayload](ctx, s.backend, shopify.DraftOrderUpdateMutation, map[string]any{
		"id":    draft.ID,
		"input": draftOrderInput(params),
	}, "draftOrderUpdate")
	if err != nil {
		return Checkout{}, err
	}
	if len(payload.UserErrors) > 0 {
		return Checkout{}, userErrorsFailure("draftOrderUpdate", payload.UserErrors)
	}
	if payload.DraftOrder == nil {
		return Checkout{}, fmt.Errorf("%w: draftOrderUpdate returned no draft order", ErrBackend)
	}
	return s.mapCheckout(*payload.DraftOrder), nil
}

// Complete converts the checkout into an order. The draft is re-fetched and
// re-validated first; when buyer email or shipping address is missing the
// completion mutation is never issued.
func (s *checkoutService) Complete(ctx context.Context, checkoutID string) (Checkout, error) {
	if s == nil || s.backend == nil {
		return Checkout{}, fmt.Errorf("%w: checkout service not initialised", ErrBackend)
	}

	draft, err := findDraftByToken(ctx, s.backend, strings.TrimSpace(checkoutID), checkoutIDPrefix)
	if err != nil {
		return Checkout{}, err
	}
	if draft.Completed() {
		return s.mapCheckout(draft), nil
	}
	if missing := missingCompletionFields(draft); len(missing) > 0 {
		return Checkout{}, &PreconditionError{Missing: missing}
	}

	payload, err := fetchRoot[shopify.DraftOrderCompletePayload](ctx, s.backend, shopify.DraftOrderCompleteMutation, map[string]any{
		"id": draft.ID,
	}, "draftOrderComplete")
	if err != nil {
		return Checkout{}, err
	}
	if len(payload.UserErrors) > 0 {
		return Checkout{}, userErrorsFailure("draftOrderComplete", payload.UserErrors)
	}
	if payload.DraftOrder == nil {
		return Checkout{}, fmt.Errorf("%w: draftOrderComplete returned no draft order", ErrBackend)
	}

	checkout := s.mapCheckout(*payload.DraftOrder)
	if !checkout.Status.Terminal() {
		// The backend accepted the completion but has not linked the order
		// yet. Report the transition rather than a stale pre-completion state.
		checkout.Status = domain.CheckoutStatusCompleteInProgress
		checkout.Messages = nil
	}

	fields := map[string]any{"checkoutID": checkout.ID, "backendID": payload.DraftOrder.ID}
	if checkout.Order != nil {
		fields["orderID"] = checkout.Order.ID
	}
	s.logger(ctx, "checkout.completed", fields)
	return checkout, nil
}

// Cancel deletes the backing draft order and reports the last-known checkout
// state as canceled. A completed checkout cannot be canceled; its draft is
// already converted.
func (s *checkoutService) Cancel(ctx context.Context, checkoutID string) (Checkout, error) {
	if s == nil || s.backend == nil {
		return Checkout{}, fmt.Errorf("%w: checkout service not initialised", ErrBackend)
	}

	draft, err := findDraftByToken(ctx, s.backend, strings.TrimSpace(checkoutID), checkoutIDPrefix)
	if err != nil {
		return Checkout{}, err
	}
	if draft.Completed() {
		return Checkout{}, fmt.Errorf("%w: checkout %s is already completed", ErrValidation, checkoutID)
	}

	checkout := s.mapCheckout(draft)

	payload, err := fetchRoot[shopify.DraftOrderDeletePayload](ctx, s.backend, shopify.DraftOrderDeleteMutation, map[string]any{
		"input": map[string]any{"id": draft.ID},
	}, "draftOrderDelete")
	if err != nil {
		return Checkout{}, err
	}
	if len(payload.UserErrors) > 0 {
		return Checkout{}, userErrorsFailure("draftOrderDelete", payload.UserErrors)
	}

	// The terminal state is authoritative whatever shape the deletion payload
	// came back in.
	checkout.Status = domain.CheckoutStatusCanceled
	checkout.ExpiresAt = nil
	checkout.ContinueURL = ""
	checkout.Links = nil
	checkout.Messages = []Message{{
		Type:    domain.MessageTypeInfo,
		Code:    messageCodeCanceled,
		Content: "checkout was canceled and its backing draft order deleted",
	}}

	s.logger(ctx, "checkout.canceled", map[string]any{"checkoutID": checkout.ID, "backendID": draft.ID})
	return checkout, nil
}

// mapCheckout projects a backend draft order into the checkout shape,
// deriving status, messages, links, and expiry.
func (s *checkoutService) mapCheckout(draft shopify.DraftOrder) Checkout {
	currency := draft.CurrencyCode
	if currency == "" {
		currency = s.currency
	}

	created := draft.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	status := deriveStatus(draft)
	checkout := Checkout{
		ID:              tokenFromTags(draft.Tags, checkoutIDPrefix, draft.ID),
		LineItems:       lineItemsFromDraft(draft.LineItems, currency),
		Status:          status,
		Currency:        currency,
		Totals:          draftTotals(draft, true),
		Buyer:           buyerFromBackend(draft.Customer, draft.Email),
		ShippingAddress: addressFromBackend(draft.ShippingAddress),
		BillingAddress:  addressFromBackend(draft.BillingAddress),
		Messages:        checkoutMessages(status, draft),
		ContinueURL:     draft.InvoiceURL,
		CreatedAt:       created,
	}

	if draft.InvoiceURL != "" {
		checkout.Links = append(checkout.Links, Link{Type: "continue", URL: draft.InvoiceURL})
	}
	if draft.Order != nil {
		checkout.Order = &OrderRef{ID: shopify.LegacyID(draft.Order.ID), PermalinkURL: draft.Order.StatusPageURL}
		if draft.Order.StatusPageURL != "" {
			checkout.Links = append(checkout.Links, Link{Type: "order", URL: draft.Order.StatusPageURL})
		}
	}
	if !status.Terminal() {
		expiry := created.Add(s.ttl)
		checkout.ExpiresAt = &expiry
	}
	return checkout
}

// deriveStatus classifies a draft order on every read. The same backend state
// always classifies the same way; nothing is persisted.
func deriveStatus(draft shopify.DraftOrder) CheckoutStatus {
	if draft.Completed() {
		return domain.CheckoutStatusCompleted
	}
	if draft.Status == shopify.DraftOrderStatusInvoiceSent {
		return domain.CheckoutStatusRequiresEscalation
	}
	if len(missingCompletionFields(draft)) == 0 && len(draft.LineItems.Edges) > 0 {
		return domain.CheckoutStatusReadyForComplete
	}
	return domain.CheckoutStatusIncomplete
}

// missingCompletionFields reports which completion preconditions the draft
// lacks, in a stable order.
func missingCompletionFields(draft shopify.DraftOrder) []string {
	var missing []string
	if strings.TrimSpace(draftEmail(draft)) == "" {
		missing = append(missing, preconditionBuyerEmail)
	}
	if addressFromBackend(draft.ShippingAddress) == nil {
		missing = append(missing, preconditionShippingAddress)
	}
	return missing
}

// checkoutMessages derives the diagnostic set for one read. Messages are
// computed from current backend state and never stored.
func checkoutMessages(status CheckoutStatus, draft shopify.DraftOrder) []Message {
	switch status {
	case domain.CheckoutStatusCompleted, domain.CheckoutStatusCompleteInProgress, domain.CheckoutStatusCanceled:
		return nil
	case domain.CheckoutStatusRequiresEscalation:
		return []Message{{
			Type:     domain.MessageTypeWarning,
			Code:     messageCodeEscalation,
			Content:  "an invoice was sent for this checkout; the buyer must continue at the hosted payment page",
			Severity: domain.SeverityRequiresBuyerInput,
		}}
	}

	var messages []Message
	if strings.TrimSpace(draftEmail(draft)) == "" {
		messages = append(messages, Message{
			Type:     domain.MessageTypeError,
			Code:     messageCodeMissingEmail,
			Content:  "a buyer email is required before this checkout can be completed",
			Severity: domain.SeverityRequiresBuyerInput,
			Field:    fieldBuyerEmail,
		})
	}
	if addressFromBackend(draft.ShippingAddress) == nil {
		messages = append(messages, Message{
			Type:     domain.MessageTypeError,
			Code:     messageCodeMissingShipping,
			Content:  "a shipping address is required before this checkout can be completed",
			Severity: domain.SeverityRequiresBuyerInput,
			Field:    fieldShippingAddress,
		})
	}
	if len(draft.LineItems.Edges) == 0 {
		messages = append(messages, Message{
			Type:     domain.MessageTypeError,
			Code:     messageCodeEmptyCart,
			Content:  "the checkout has no line items",
			Severity: domain.SeverityRecoverable,
			Field:    fieldLineItems,
		})
	}
	return messages
}
