package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Money carries a decimal-string amount in a backend-native currency. Amounts
// stay in this representation throughout the services; conversion to integer
// minor units happens only at the wire boundary.
type Money struct {
	Amount       string
	CurrencyCode string
}

// LineItem is the canonical line-item shape shared by carts, checkouts, and
// orders after normalization.
type LineItem struct {
	ID         string
	ProductID  string
	VariantID  string
	Quantity   int
	Price      *Money
	Title      string
	SKU        string
	ImageURL   string
	Properties map[string]string
}

// TotalType labels an entry in the ordered totals set.
type TotalType string

const (
	// TotalTypeSubtotal is the pre-tax, pre-shipping line item sum.
	TotalTypeSubtotal TotalType = "subtotal"
	// TotalTypeTax is the aggregate tax amount.
	TotalTypeTax TotalType = "tax"
	// TotalTypeShipping is the shipping charge.
	TotalTypeShipping TotalType = "shipping"
	// TotalTypeDiscount is the aggregate discount amount.
	TotalTypeDiscount TotalType = "discount"
	// TotalTypeTotal is the grand total.
	TotalTypeTotal TotalType = "total"
	// TotalTypeDue is the outstanding balance, when the backend reports one.
	TotalTypeDue TotalType = "due"
	// TotalTypeLineTotal is the per-line extended price used in wire envelopes.
	TotalTypeLineTotal TotalType = "line_total"
)

// Total is one entry of a cart/checkout/order totals breakdown.
type Total struct {
	Type   TotalType
	Amount Money
	Label  string
}

// Buyer identifies the purchasing customer attached to a cart or checkout.
type Buyer struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// Address mirrors the backend mailing-address shape used for shipping and
// billing destinations.
type Address struct {
	FirstName    string
	LastName     string
	Company      string
	Address1     string
	Address2     string
	City         string
	ProvinceCode string
	CountryCode  string
	Zip          string
	Phone        string
}

// Empty reports whether no address field carries a value.
func (a Address) Empty() bool {
	return a == Address{}
}

// Link is a typed continuation or reference URL exposed to callers.
type Link struct {
	Type string
	URL  string
}

// Cart is the pre-checkout container mapped from a backend draft order. Carts
// carry no status; their identity and contents live entirely in the backend.
type Cart struct {
	ID          string
	LineItems   []LineItem
	Currency    string
	Totals      []Total
	Buyer       *Buyer
	ContinueURL string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

// CheckoutStatus enumerates the derived lifecycle states of a checkout.
type CheckoutStatus string

const (
	// CheckoutStatusIncomplete indicates preconditions for completion are missing.
	CheckoutStatusIncomplete CheckoutStatus = "incomplete"
	// CheckoutStatusRequiresEscalation indicates the buyer must continue in the backend's own flow.
	CheckoutStatusRequiresEscalation CheckoutStatus = "requires_escalation"
	// CheckoutStatusReadyForComplete indicates completion may be attempted.
	CheckoutStatusReadyForComplete CheckoutStatus = "ready_for_complete"
	// CheckoutStatusCompleteInProgress indicates a completion attempt is underway.
	CheckoutStatusCompleteInProgress CheckoutStatus = "complete_in_progress"
	// CheckoutStatusCompleted indicates a finalized order now exists. Terminal.
	CheckoutStatusCompleted CheckoutStatus = "completed"
	// CheckoutStatusCanceled indicates the underlying draft record was deleted. Terminal.
	CheckoutStatusCanceled CheckoutStatus = "canceled"
)

// Terminal reports whether the status permits no further mutation.
func (s CheckoutStatus) Terminal() bool {
	return s == CheckoutStatusCompleted || s == CheckoutStatusCanceled
}

// MessageType classifies a generated diagnostic message.
type MessageType string

const (
	// MessageTypeError marks a blocking problem.
	MessageTypeError MessageType = "error"
	// MessageTypeWarning marks a condition the caller should act on.
	MessageTypeWarning MessageType = "warning"
	// MessageTypeInfo marks a non-actionable notice.
	MessageTypeInfo MessageType = "info"
)

// MessageSeverity qualifies how a message-level problem is resolved.
type MessageSeverity string

const (
	// SeverityRequiresBuyerInput means the buyer must supply missing data.
	SeverityRequiresBuyerInput MessageSeverity = "requires_buyer_input"
	// SeverityRecoverable means the caller can retry after correcting the request.
	SeverityRecoverable MessageSeverity = "recoverable"
)

// Message is an ephemeral diagnostic computed per response, never persisted.
type Message struct {
	Type     MessageType
	Code     string
	Content  string
	Severity MessageSeverity
	Field    string
}

// OrderRef links a completed checkout to its finalized order.
type OrderRef struct {
	ID           string
	PermalinkURL string
}

// Checkout is the lifecycle view of a backend draft order. Status, messages,
// and expiry are derived on every read and never stored.
type Checkout struct {
	ID              string
	LineItems       []LineItem
	Status          CheckoutStatus
	Currency        string
	Totals          []Total
	Links           []Link
	Buyer           *Buyer
	ShippingAddress *Address
	BillingAddress  *Address
	Messages        []Message
	ContinueURL     string
	Order           *OrderRef
	CreatedAt       time.Time
	ExpiresAt       *time.Time
}

// OrderLineItem extends a line item with fulfillment progress counters.
type OrderLineItem struct {
	LineItem
	FulfilledQuantity   int
	FulfillableQuantity int
}

// FulfillmentStatus enumerates UCP fulfillment event states.
type FulfillmentStatus string

const (
	// FulfillmentStatusPending indicates no shipment activity yet.
	FulfillmentStatusPending FulfillmentStatus = "pending"
	// FulfillmentStatusInTransit indicates the shipment is underway.
	FulfillmentStatusInTransit FulfillmentStatus = "in_transit"
	// FulfillmentStatusDelivered indicates successful delivery.
	FulfillmentStatusDelivered FulfillmentStatus = "delivered"
	// FulfillmentStatusFailed indicates delivery failed or was cancelled.
	FulfillmentStatusFailed FulfillmentStatus = "failed"
)

// FulfillmentEvent records one backend fulfillment as an append-only entry.
type FulfillmentEvent struct {
	ID             string
	LineItemIDs    []string
	Status         FulfillmentStatus
	TrackingNumber string
	TrackingURL    string
	Carrier        string
	CreatedAt      time.Time
}

// FulfillmentExpectation declares an intended fulfillment grouping, derived
// from the order's shipping destination.
type FulfillmentExpectation struct {
	ID          string
	Destination *Address
	LineItemIDs []string
}

// Fulfillment aggregates an order's declared expectations and observed events.
type Fulfillment struct {
	Expectations []FulfillmentExpectation
	Events       []FulfillmentEvent
}

// AdjustmentType labels a post-completion monetary adjustment.
type AdjustmentType string

const (
	// AdjustmentTypeRefund is a refund issued against the order.
	AdjustmentTypeRefund AdjustmentType = "refund"
	// AdjustmentTypeReturn is a product return. No backend source in this mapping.
	AdjustmentTypeReturn AdjustmentType = "return"
	// AdjustmentTypeCredit is a store credit. No backend source in this mapping.
	AdjustmentTypeCredit AdjustmentType = "credit"
	// AdjustmentTypeDispute is a payment dispute. No backend source in this mapping.
	AdjustmentTypeDispute AdjustmentType = "dispute"
	// AdjustmentTypeCancellation is an order cancellation. No backend source in this mapping.
	AdjustmentTypeCancellation AdjustmentType = "cancellation"
)

// Adjustment is a one-way append derived from backend refund records.
type Adjustment struct {
	ID        string
	Type      AdjustmentType
	Amount    Money
	Reason    string
	CreatedAt time.Time
}

// Order is the immutable view of a finalized backend order. Identity and
// totals never change; only fulfillment events and adjustments accrue.
type Order struct {
	ID           string
	CheckoutID   string
	PermalinkURL string
	Currency     string
	LineItems    []OrderLineItem
	Fulfillment  Fulfillment
	Adjustments  []Adjustment
	Totals       []Total
	CreatedAt    time.Time
}
