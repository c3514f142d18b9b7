package shopify

import "time"

// Draft order status markers returned by the Admin API.
const (
	DraftOrderStatusOpen        = "OPEN"
	DraftOrderStatusInvoiceSent = "INVOICE_SENT"
	DraftOrderStatusCompleted   = "COMPLETED"
)

// MoneyV2 is the Admin API decimal-string money value.
type MoneyV2 struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

// MoneyBag wraps a MoneyV2 in shop currency. Presentment money is not used
// by this service.
type MoneyBag struct {
	ShopMoney MoneyV2 `json:"shopMoney"`
}

// PageInfo carries relay-style pagination markers.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// Edge is one relay connection entry.
type Edge[T any] struct {
	Cursor string `json:"cursor"`
	Node   T      `json:"node"`
}

// Connection is a relay-style list of nodes with pagination info.
type Connection[T any] struct {
	Edges    []Edge[T] `json:"edges"`
	PageInfo PageInfo  `json:"pageInfo"`
}

// Nodes collects the connection's nodes in order.
func (c Connection[T]) Nodes() []T {
	if len(c.Edges) == 0 {
		return nil
	}
	nodes := make([]T, 0, len(c.Edges))
	for _, edge := range c.Edges {
		nodes = append(nodes, edge.Node)
	}
	return nodes
}

// MailingAddress is the Admin API address shape.
type MailingAddress struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Company      string `json:"company"`
	Address1     string `json:"address1"`
	Address2     string `json:"address2"`
	City         string `json:"city"`
	ProvinceCode string `json:"provinceCode"`
	CountryCode  string `json:"countryCodeV2"`
	Zip          string `json:"zip"`
	Phone        string `json:"phone"`
}

// Customer is the identity attached to a draft order or order.
type Customer struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

// Attribute is a custom key/value pair on a line item.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ResourceStub identifies a linked resource by global id.
type ResourceStub struct {
	ID string `json:"id"`
}

// Image carries a line item's image reference.
type Image struct {
	URL string `json:"url"`
}

// DraftOrderLineItem is one line of a draft order.
type DraftOrderLineItem struct {
	ID                   string        `json:"id"`
	Title                string        `json:"title"`
	Quantity             int           `json:"quantity"`
	SKU                  string        `json:"sku"`
	Variant              *ResourceStub `json:"variant"`
	Product              *ResourceStub `json:"product"`
	OriginalUnitPriceSet MoneyBag      `json:"originalUnitPriceSet"`
	Image                *Image        `json:"image"`
	CustomAttributes     []Attribute   `json:"customAttributes"`
}

// OrderStub is the minimal view of the order linked to a completed draft.
type OrderStub struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	StatusPageURL string `json:"statusPageUrl"`
}

// DraftOrder is the mutable pre-order record backing carts and checkouts.
type DraftOrder struct {
	ID                    string                         `json:"id"`
	Name                  string                         `json:"name"`
	Status                string                         `json:"status"`
	InvoiceURL            string                         `json:"invoiceUrl"`
	CurrencyCode          string                         `json:"currencyCode"`
	Tags                  []string                       `json:"tags"`
	Email                 string                         `json:"email"`
	Customer              *Customer                      `json:"customer"`
	ShippingAddress       *MailingAddress                `json:"shippingAddress"`
	BillingAddress        *MailingAddress                `json:"billingAddress"`
	SubtotalPriceSet      MoneyBag                       `json:"subtotalPriceSet"`
	TotalTaxSet           MoneyBag                       `json:"totalTaxSet"`
	TotalShippingPriceSet MoneyBag                       `json:"totalShippingPriceSet"`
	TotalDiscountsSet     MoneyBag                       `json:"totalDiscountsSet"`
	TotalPriceSet         MoneyBag                       `json:"totalPriceSet"`
	LineItems             Connection[DraftOrderLineItem] `json:"lineItems"`
	Order                 *OrderStub                     `json:"order"`
	CreatedAt             time.Time                      `json:"createdAt"`
	UpdatedAt             time.Time                      `json:"updatedAt"`
}

// Completed reports whether the draft has been converted into an order.
func (d DraftOrder) Completed() bool {
	return d.Order != nil || d.Status == DraftOrderStatusCompleted
}

// OrderLineItem is one line of a finalized order.
type OrderLineItem struct {
	ID                   string        `json:"id"`
	Title                string        `json:"title"`
	Quantity             int           `json:"quantity"`
	FulfillableQuantity  int           `json:"fulfillableQuantity"`
	SKU                  string        `json:"sku"`
	Variant              *ResourceStub `json:"variant"`
	Product              *ResourceStub `json:"product"`
	OriginalUnitPriceSet MoneyBag      `json:"originalUnitPriceSet"`
	Image                *Image        `json:"image"`
	CustomAttributes     []Attribute   `json:"customAttributes"`
}

// TrackingInfo is shipment tracking metadata on a fulfillment.
type TrackingInfo struct {
	Number  string `json:"number"`
	URL     string `json:"url"`
	Company string `json:"company"`
}

// FulfillmentLineItem links a fulfillment back to the order line it covers.
type FulfillmentLineItem struct {
	ID       string       `json:"id"`
	Quantity int          `json:"quantity"`
	LineItem ResourceStub `json:"lineItem"`
}

// Fulfillment is one shipment record attached to an order.
type Fulfillment struct {
	ID                   string                          `json:"id"`
	Status               string                          `json:"status"`
	CreatedAt            time.Time                       `json:"createdAt"`
	TrackingInfo         []TrackingInfo                  `json:"trackingInfo"`
	FulfillmentLineItems Connection[FulfillmentLineItem] `json:"fulfillmentLineItems"`
}

// Refund is a refund issued against an order.
type Refund struct {
	ID               string    `json:"id"`
	Note             string    `json:"note"`
	CreatedAt        time.Time `json:"createdAt"`
	TotalRefundedSet MoneyBag  `json:"totalRefundedSet"`
}

// Order is the immutable post-completion purchase record.
type Order struct {
	ID                    string                    `json:"id"`
	Name                  string                    `json:"name"`
	StatusPageURL         string                    `json:"statusPageUrl"`
	CurrencyCode          string                    `json:"currencyCode"`
	Tags                  []string                  `json:"tags"`
	Email                 string                    `json:"email"`
	Customer              *Customer                 `json:"customer"`
	ShippingAddress       *MailingAddress           `json:"shippingAddress"`
	SubtotalPriceSet      MoneyBag                  `json:"subtotalPriceSet"`
	TotalTaxSet           MoneyBag                  `json:"totalTaxSet"`
	TotalShippingPriceSet MoneyBag                  `json:"totalShippingPriceSet"`
	TotalDiscountsSet     MoneyBag                  `json:"totalDiscountsSet"`
	TotalPriceSet         MoneyBag                  `json:"totalPriceSet"`
	TotalOutstandingSet   MoneyBag                  `json:"totalOutstandingSet"`
	LineItems             Connection[OrderLineItem] `json:"lineItems"`
	Fulfillments          []Fulfillment             `json:"fulfillments"`
	Refunds               []Refund                  `json:"refunds"`
	CreatedAt             time.Time                 `json:"createdAt"`
}

// DraftOrderCreatePayload is the draftOrderCreate mutation result.
type DraftOrderCreatePayload struct {
	DraftOrder *DraftOrder `json:"draftOrder"`
	UserErrors []UserError `json:"userErrors"`
}

// DraftOrderUpdatePayload is the draftOrderUpdate mutation result.
type DraftOrderUpdatePayload struct {
	DraftOrder *DraftOrder `json:"draftOrder"`
	UserErrors []UserError `json:"userErrors"`
}

// DraftOrderCompletePayload is the draftOrderComplete mutation result.
type DraftOrderCompletePayload struct {
	DraftOrder *DraftOrder `json:"draftOrder"`
	UserErrors []UserError `json:"userErrors"`
}

// DraftOrderDeletePayload is the draftOrderDelete mutation result.
type DraftOrderDeletePayload struct {
	DeletedID  string      `json:"deletedId"`
	UserErrors []UserError `json:"userErrors"`
}

// OrdersCount is the ordersCount query result.
type OrdersCount struct {
	Count int64 `json:"count"`
}
