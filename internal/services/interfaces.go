package services

import (
	"context"

	domain "github.com/dorrio/shopify-ucp-bridge/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination       = domain.Pagination
	Money            = domain.Money
	LineItem         = domain.LineItem
	Total            = domain.Total
	Buyer            = domain.Buyer
	Address          = domain.Address
	Link             = domain.Link
	Cart             = domain.Cart
	Checkout         = domain.Checkout
	CheckoutStatus   = domain.CheckoutStatus
	Message          = domain.Message
	OrderRef         = domain.OrderRef
	Order            = domain.Order
	OrderLineItem    = domain.OrderLineItem
	Fulfillment      = domain.Fulfillment
	FulfillmentEvent = domain.FulfillmentEvent
	Adjustment       = domain.Adjustment
)

// CartService manages cart lifecycle operations projected onto backend draft orders.
type CartService interface {
	Create(ctx context.Context, cmd CartCommand) (Cart, error)
	Get(ctx context.Context, cartID string) (Cart, error)
	Update(ctx context.Context, cartID string, cmd CartCommand) (Cart, error)
	Delete(ctx context.Context, cartID string) (bool, error)
	List(ctx context.Context, pager Pagination) (domain.CursorPage[Cart], error)
}

// CheckoutService coordinates checkout sessions, deriving status on every read
// and converting sessions into orders on completion.
type CheckoutService interface {
	Create(ctx context.Context, cmd CheckoutCommand) (Checkout, error)
	Get(ctx context.Context, checkoutID string) (Checkout, error)
	Update(ctx context.Context, checkoutID string, cmd CheckoutUpdateCommand) (Checkout, error)
	Complete(ctx context.Context, checkoutID string) (Checkout, error)
	Cancel(ctx context.Context, checkoutID string) (Checkout, error)
}

// OrderService exposes read-only projections of completed orders.
type OrderService interface {
	Get(ctx context.Context, orderID string) (Order, error)
	List(ctx context.Context, pager Pagination) (domain.CursorPage[Order], error)
	GetByCheckoutID(ctx context.Context, checkoutID string) (*Order, error)
	Count(ctx context.Context) (int64, error)
}

// Command and DTO definitions ------------------------------------------------

// LineItemInput is the canonical line item produced by the normalizer and
// accepted by cart and checkout commands. Prices are decimal strings.
type LineItemInput struct {
	ProductID  string
	VariantID  string
	Quantity   int
	Title      string
	SKU        string
	Price      *Money
	Properties map[string]string
}

// CartCommand carries the full desired cart state for create and update.
type CartCommand struct {
	LineItems []LineItemInput
	Buyer     *Buyer
	Currency  string
}

// CheckoutCommand carries the initial checkout session state.
type CheckoutCommand struct {
	LineItems       []LineItemInput
	Buyer           *Buyer
	ShippingAddress *Address
	BillingAddress  *Address
	Currency        string
}

// CheckoutUpdateCommand is a partial update. Nil pointers leave the backend
// value untouched; HasLineItems distinguishes replacing the item list from
// omitting it.
type CheckoutUpdateCommand struct {
	LineItems       []LineItemInput
	HasLineItems    bool
	Buyer           *Buyer
	ShippingAddress *Address
	BillingAddress  *Address
}
