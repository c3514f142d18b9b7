package services

import (
	"time"

	domain "github.com/dorrio/shopify-ucp-bridge/internal/domain"
	"github.com/dorrio/shopify-ucp-bridge/internal/money"
)

// ProtocolVersion is the commerce protocol revision stamped on every response.
const ProtocolVersion = "2026-01"

// ProtocolInfo is the protocol envelope leading every formatted payload.
type ProtocolInfo struct {
	Version string `json:"version"`
}

// ItemInfo is the nested product reference inside a line-item envelope.
// Price is an integer amount in the response's minor currency units.
type ItemInfo struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Price int64  `json:"price"`
}

// TotalEntry is one totals breakdown row with a minor-unit amount.
type TotalEntry struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

// LineItemEnvelope is the wire form of one cart or checkout line.
type LineItemEnvelope struct {
	ID       string       `json:"id,omitempty"`
	Item     ItemInfo     `json:"item"`
	Quantity int          `json:"quantity"`
	Totals   []TotalEntry `json:"totals,omitempty"`
}

// OrderLineItemEnvelope extends a line with fulfillment progress counters.
type OrderLineItemEnvelope struct {
	LineItemEnvelope
	FulfilledQuantity   int `json:"fulfilled_quantity"`
	FulfillableQuantity int `json:"fulfillable_quantity"`
}

// MessageEntry is one derived diagnostic attached to a checkout response.
type MessageEntry struct {
	Type     string `json:"type"`
	Code     string `json:"code"`
	Content  string `json:"content,omitempty"`
	Severity string `json:"severity,omitempty"`
	Field    string `json:"field,omitempty"`
}

// LinkEntry is a typed continuation or reference URL.
type LinkEntry struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// BuyerInfo is the wire form of the purchasing customer.
type BuyerInfo struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// AddressInfo is the wire form of a shipping or billing destination.
type AddressInfo struct {
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Company      string `json:"company,omitempty"`
	Address1     string `json:"address1,omitempty"`
	Address2     string `json:"address2,omitempty"`
	City         string `json:"city,omitempty"`
	ProvinceCode string `json:"province_code,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
	Zip          string `json:"zip,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

// OrderRefInfo links a completed checkout to its order.
type OrderRefInfo struct {
	ID           string `json:"id"`
	PermalinkURL string `json:"permalink_url,omitempty"`
}

// ExpectationEntry is one declared fulfillment grouping.
type ExpectationEntry struct {
	ID          string       `json:"id"`
	Destination *AddressInfo `json:"destination,omitempty"`
	LineItemIDs []string     `json:"line_item_ids,omitempty"`
}

// FulfillmentEventEntry is one observed shipment event.
type FulfillmentEventEntry struct {
	ID             string   `json:"id"`
	Status         string   `json:"status"`
	LineItemIDs    []string `json:"line_item_ids,omitempty"`
	TrackingNumber string   `json:"tracking_number,omitempty"`
	TrackingURL    string   `json:"tracking_url,omitempty"`
	Carrier        string   `json:"carrier,omitempty"`
	CreatedAt      string   `json:"created_at,omitempty"`
}

// FulfillmentInfo aggregates an order's expectations and events.
type FulfillmentInfo struct {
	Expectations []ExpectationEntry      `json:"expectations"`
	Events       []FulfillmentEventEntry `json:"events"`
}

// AdjustmentEntry is one post-completion monetary adjustment.
type AdjustmentEntry struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CartResponse is the wire form of a cart.
type CartResponse struct {
	UCP         ProtocolInfo       `json:"ucp"`
	ID          string             `json:"id"`
	Currency    string             `json:"currency"`
	LineItems   []LineItemEnvelope `json:"line_items"`
	Totals      []TotalEntry       `json:"totals"`
	Buyer       *BuyerInfo         `json:"buyer,omitempty"`
	ContinueURL string             `json:"continue_url,omitempty"`
	CreatedAt   string             `json:"created_at,omitempty"`
	ExpiresAt   string             `json:"expires_at,omitempty"`
}

// CheckoutResponse is the wire form of a checkout session.
type CheckoutResponse struct {
	UCP                ProtocolInfo       `json:"ucp"`
	ID                 string             `json:"id"`
	Status             string             `json:"status"`
	Currency           string             `json:"currency"`
	LineItems          []LineItemEnvelope `json:"line_items"`
	Totals             []TotalEntry       `json:"totals"`
	Messages           []MessageEntry     `json:"messages"`
	Links              []LinkEntry        `json:"links,omitempty"`
	Buyer              *BuyerInfo         `json:"buyer,omitempty"`
	FulfillmentAddress *AddressInfo       `json:"fulfillment_address,omitempty"`
	BillingAddress     *AddressInfo       `json:"billing_address,omitempty"`
	ContinueURL        string             `json:"continue_url,omitempty"`
	Order              *OrderRefInfo      `json:"order,omitempty"`
	CreatedAt          string             `json:"created_at,omitempty"`
	ExpiresAt          string             `json:"expires_at,omitempty"`
}

// OrderResponse is the wire form of a finalized order.
type OrderResponse struct {
	UCP          ProtocolInfo            `json:"ucp"`
	ID           string                  `json:"id"`
	CheckoutID   string                  `json:"checkout_id,omitempty"`
	PermalinkURL string                  `json:"permalink_url,omitempty"`
	Currency     string                  `json:"currency"`
	LineItems    []OrderLineItemEnvelope `json:"line_items"`
	Totals       []TotalEntry            `json:"totals"`
	Fulfillment  FulfillmentInfo         `json:"fulfillment"`
	Adjustments  []AdjustmentEntry       `json:"adjustments"`
	CreatedAt    string                  `json:"created_at,omitempty"`
}

// Formatter renders internal entities into the protocol wire schema. All
// amounts become integer minor units; decimal strings never reach callers.
type Formatter struct {
	now func() time.Time
}

// NewFormatter constructs a Formatter. A nil clock falls back to time.Now.
func NewFormatter(clock func() time.Time) *Formatter {
	if clock == nil {
		clock = time.Now
	}
	return &Formatter{now: func() time.Time { return clock().UTC() }}
}

// Cart renders a cart payload.
func (f *Formatter) Cart(cart Cart) CartResponse {
	response := CartResponse{
		UCP:         ProtocolInfo{Version: ProtocolVersion},
		ID:          cart.ID,
		Currency:    cart.Currency,
		LineItems:   formatLineItems(cart.LineItems),
		Totals:      formatTotals(cart.Totals),
		Buyer:       formatBuyer(cart.Buyer),
		ContinueURL: cart.ContinueURL,
		CreatedAt:   formatTime(cart.CreatedAt),
		ExpiresAt:   f.expiry(cart.ExpiresAt, true),
	}
	return response
}

// Checkout renders a checkout payload. A missing expiry is backfilled for
// active sessions and omitted once the checkout is terminal.
func (f *Formatter) Checkout(checkout Checkout) CheckoutResponse {
	response := CheckoutResponse{
		UCP:                ProtocolInfo{Version: ProtocolVersion},
		ID:                 checkout.ID,
		Status:             string(checkout.Status),
		Currency:           checkout.Currency,
		LineItems:          formatLineItems(checkout.LineItems),
		Totals:             formatTotals(checkout.Totals),
		Messages:           formatMessages(checkout.Messages),
		Links:              formatLinks(checkout.Links),
		Buyer:              formatBuyer(checkout.Buyer),
		FulfillmentAddress: formatAddress(checkout.ShippingAddress),
		BillingAddress:     formatAddress(checkout.BillingAddress),
		ContinueURL:        checkout.ContinueURL,
		CreatedAt:          formatTime(checkout.CreatedAt),
		ExpiresAt:          f.expiry(checkout.ExpiresAt, !checkout.Status.Terminal()),
	}
	if checkout.Order != nil {
		response.Order = &OrderRefInfo{ID: checkout.Order.ID, PermalinkURL: checkout.Order.PermalinkURL}
	}
	return response
}

// Order renders an order payload.
func (f *Formatter) Order(order Order) OrderResponse {
	lineItems := make([]OrderLineItemEnvelope, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		lineItems = append(lineItems, OrderLineItemEnvelope{
			LineItemEnvelope:    formatLineItem(item.LineItem),
			FulfilledQuantity:   item.FulfilledQuantity,
			FulfillableQuantity: item.FulfillableQuantity,
		})
	}

	expectations := make([]ExpectationEntry, 0, len(order.Fulfillment.Expectations))
	for _, expectation := range order.Fulfillment.Expectations {
		expectations = append(expectations, ExpectationEntry{
			ID:          expectation.ID,
			Destination: formatAddress(expectation.Destination),
			LineItemIDs: expectation.LineItemIDs,
		})
	}

	events := make([]FulfillmentEventEntry, 0, len(order.Fulfillment.Events))
	for _, event := range order.Fulfillment.Events {
		events = append(events, FulfillmentEventEntry{
			ID:             event.ID,
			Status:         string(event.Status),
			LineItemIDs:    event.LineItemIDs,
			TrackingNumber: event.TrackingNumber,
			TrackingURL:    event.TrackingURL,
			Carrier:        event.Carrier,
			CreatedAt:      formatTime(event.CreatedAt),
		})
	}

	adjustments := make([]AdjustmentEntry, 0, len(order.Adjustments))
	for _, adjustment := range order.Adjustments {
		adjustments = append(adjustments, AdjustmentEntry{
			ID:        adjustment.ID,
			Type:      string(adjustment.Type),
			Amount:    money.ToMinorUnits(adjustment.Amount.Amount, adjustment.Amount.CurrencyCode),
			Reason:    adjustment.Reason,
			CreatedAt: formatTime(adjustment.CreatedAt),
		})
	}

	return OrderResponse{
		UCP:          ProtocolInfo{Version: ProtocolVersion},
		ID:           order.ID,
		CheckoutID:   order.CheckoutID,
		PermalinkURL: order.PermalinkURL,
		Currency:     order.Currency,
		LineItems:    lineItems,
		Totals:       formatTotals(order.Totals),
		Fulfillment:  FulfillmentInfo{Expectations: expectations, Events: events},
		Adjustments:  adjustments,
		CreatedAt:    formatTime(order.CreatedAt),
	}
}

// expiry formats a computed expiration, backfilling a default window when an
// active record carries none.
func (f *Formatter) expiry(expiresAt *time.Time, active bool) string {
	if expiresAt != nil {
		return formatTime(*expiresAt)
	}
	if !active {
		return ""
	}
	return formatTime(f.now().Add(defaultRecordTTL))
}

func formatLineItems(items []LineItem) []LineItemEnvelope {
	envelopes := make([]LineItemEnvelope, 0, len(items))
	for _, item := range items {
		envelopes = append(envelopes, formatLineItem(item))
	}
	return envelopes
}

func formatLineItem(item LineItem) LineItemEnvelope {
	itemID := item.VariantID
	if itemID == "" {
		itemID = item.ProductID
	}
	envelope := LineItemEnvelope{
		ID: item.ID,
		Item: ItemInfo{
			ID:    itemID,
			Title: item.Title,
		},
		Quantity: item.Quantity,
	}
	if item.Price != nil {
		unit := money.ToMinorUnits(item.Price.Amount, item.Price.CurrencyCode)
		envelope.Item.Price = unit
		envelope.Totals = []TotalEntry{{
			Type:   string(domain.TotalTypeLineTotal),
			Amount: unit * int64(item.Quantity),
		}}
	}
	return envelope
}

func formatTotals(totals []Total) []TotalEntry {
	entries := make([]TotalEntry, 0, len(totals))
	for _, total := range totals {
		entries = append(entries, TotalEntry{
			Type:   string(total.Type),
			Amount: money.ToMinorUnits(total.Amount.Amount, total.Amount.CurrencyCode),
		})
	}
	return entries
}

func formatMessages(messages []Message) []MessageEntry {
	entries := make([]MessageEntry, 0, len(messages))
	for _, message := range messages {
		entries = append(entries, MessageEntry{
			Type:     string(message.Type),
			Code:     message.Code,
			Content:  message.Content,
			Severity: string(message.Severity),
			Field:    message.Field,
		})
	}
	return entries
}

func formatLinks(links []Link) []LinkEntry {
	if len(links) == 0 {
		return nil
	}
	entries := make([]LinkEntry, 0, len(links))
	for _, link := range links {
		entries = append(entries, LinkEntry{Type: link.Type, URL: link.URL})
	}
	return entries
}

func formatBuyer(buyer *Buyer) *BuyerInfo {
	if buyer == nil {
		return nil
	}
	return &BuyerInfo{
		Email:     buyer.Email,
		FirstName: buyer.FirstName,
		LastName:  buyer.LastName,
		Phone:     buyer.Phone,
	}
}

func formatAddress(address *Address) *AddressInfo {
	if address == nil {
		return nil
	}
	return &AddressInfo{
		FirstName:    address.FirstName,
		LastName:     address.LastName,
		Company:      address.Company,
		Address1:     address.Address1,
		Address2:     address.Address2,
		City:         address.City,
		ProvinceCode: address.ProvinceCode,
		CountryCode:  address.CountryCode,
		Zip:          address.Zip,
		Phone:        address.Phone,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
