package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/dorrio/shopify-ucp-bridge/internal/domain"
	"github.com/dorrio/shopify-ucp-bridge/internal/money"
	"github.com/dorrio/shopify-ucp-bridge/internal/platform/pagination"
	"github.com/dorrio/shopify-ucp-bridge/internal/shopify"
)

var errOrderBackendRequired = errors.New("order service: backend executor is required")

const expectationIDPrefix = "fe_"

// fulfillmentStatusMapping projects backend fulfillment states onto the
// protocol's event vocabulary. Anything unlisted reports as pending.
var fulfillmentStatusMapping = map[string]domain.FulfillmentStatus{
	"SUCCESS":     domain.FulfillmentStatusDelivered,
	"IN_PROGRESS": domain.FulfillmentStatusInTransit,
	"OPEN":        domain.FulfillmentStatusInTransit,
	"FAILURE":     domain.FulfillmentStatusFailed,
	"CANCELLED":   domain.FulfillmentStatusFailed,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Backend shopify.Executor
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	backend shopify.Executor
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Backend == nil {
		return nil, errOrderBackendRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{backend: deps.Backend, logger: logger}, nil
}

// Get fetches one order by its public numeric id.
func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	if s == nil || s.backend == nil {
		return Order{}, fmt.Errorf("%w: order service not initialised", ErrBackend)
	}

	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: empty order id", ErrNotFound)
	}

	order, err := fetchRoot[*shopify.Order](ctx, s.backend, shopify.OrderQuery, map[string]any{
		"id": shopify.OrderGID(id),
	}, "order")
	if err != nil {
		return Order{}, err
	}
	if order == nil {
		return Order{}, fmt.Errorf("%w: no record for order %q", ErrNotFound, id)
	}
	return mapOrder(*order), nil
}

// List pages through orders, newest first.
func (s *orderService) List(ctx context.Context, pager Pagination) (domain.CursorPage[Order], error) {
	if s == nil || s.backend == nil {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: order service not initialised", ErrBackend)
	}

	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	variables := map[string]any{"first": pageSize(pager.PageSize)}
	if cursor.After != "" {
		variables["after"] = cursor.After
	}

	conn, err := fetchRoot[shopify.Connection[shopify.Order]](ctx, s.backend, shopify.OrdersQuery, variables, "orders")
	if err != nil {
		return domain.CursorPage[Order]{}, err
	}

	page := domain.CursorPage[Order]{}
	for _, node := range conn.Nodes() {
		page.Items = append(page.Items, mapOrder(node))
	}
	if conn.PageInfo.HasNextPage && conn.PageInfo.EndCursor != "" {
		token, err := pagination.EncodeToken(pagination.Cursor{After: conn.PageInfo.EndCursor})
		if err != nil {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// GetByCheckoutID locates the order created from the given checkout via its
// inherited correlation tag. The lookup is best-effort: a missing match
// returns nil rather than an error.
func (s *orderService) GetByCheckoutID(ctx context.Context, checkoutID string) (*Order, error) {
	if s == nil || s.backend == nil {
		return nil, fmt.Errorf("%w: order service not initialised", ErrBackend)
	}

	token := strings.TrimSpace(checkoutID)
	if !validToken(token, checkoutIDPrefix) {
		s.logger(ctx, "order.checkout_lookup_skipped", map[string]any{"checkoutID": token})
		return nil, nil
	}

	conn, err := fetchRoot[shopify.Connection[shopify.Order]](ctx, s.backend, shopify.OrdersQuery, map[string]any{
		"first": 1,
		"query": tagQuery(token),
	}, "orders")
	if err != nil {
		return nil, err
	}

	nodes := conn.Nodes()
	if len(nodes) == 0 {
		s.logger(ctx, "order.checkout_lookup_miss", map[string]any{"checkoutID": token})
		return nil, nil
	}
	order := mapOrder(nodes[0])
	return &order, nil
}

// Count reports how many orders the backend holds.
func (s *orderService) Count(ctx context.Context) (int64, error) {
	if s == nil || s.backend == nil {
		return 0, fmt.Errorf("%w: order service not initialised", ErrBackend)
	}

	count, err := fetchRoot[shopify.OrdersCount](ctx, s.backend, shopify.OrdersCountQuery, nil, "ordersCount")
	if err != nil {
		return 0, err
	}
	return count.Count, nil
}

// mapOrder projects a backend order into the immutable order shape.
func mapOrder(order shopify.Order) Order {
	currency := order.CurrencyCode
	items := orderLineItems(order.LineItems, currency)
	return Order{
		ID:           shopify.LegacyID(order.ID),
		CheckoutID:   checkoutIDFromTags(order.Tags),
		PermalinkURL: order.StatusPageURL,
		Currency:     currency,
		LineItems:    items,
		Fulfillment: domain.Fulfillment{
			Expectations: fulfillmentExpectations(order, items),
			Events:       fulfillmentEvents(order),
		},
		Adjustments: orderAdjustments(order),
		Totals:      orderTotals(order),
		CreatedAt:   order.CreatedAt,
	}
}

func orderLineItems(conn shopify.Connection[shopify.OrderLineItem], currency string) []OrderLineItem {
	nodes := conn.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	items := make([]OrderLineItem, 0, len(nodes))
	for _, node := range nodes {
		item := OrderLineItem{
			LineItem: LineItem{
				ID:         shopify.LegacyID(node.ID),
				ProductID:  stubID(node.Product),
				VariantID:  stubID(node.Variant),
				Quantity:   node.Quantity,
				Title:      node.Title,
				SKU:        node.SKU,
				Properties: attributesToProperties(node.CustomAttributes),
			},
			FulfillableQuantity: node.FulfillableQuantity,
		}
		if node.Image != nil {
			item.ImageURL = node.Image.URL
		}
		if node.OriginalUnitPriceSet.ShopMoney.Amount != "" {
			price := moneyFrom(node.OriginalUnitPriceSet, currency)
			item.Price = &price
		}
		if fulfilled := node.Quantity - node.FulfillableQuantity; fulfilled > 0 {
			item.FulfilledQuantity = fulfilled
		}
		items = append(items, item)
	}
	return items
}

// orderTotals always carries the five standard entries; the outstanding
// balance appears only when the backend reports a non-zero amount.
func orderTotals(order shopify.Order) []Total {
	currency := order.CurrencyCode
	totals := []Total{
		{Type: domain.TotalTypeSubtotal, Amount: moneyFrom(order.SubtotalPriceSet, currency)},
		{Type: domain.TotalTypeTax, Amount: moneyFrom(order.TotalTaxSet, currency)},
		{Type: domain.TotalTypeShipping, Amount: moneyFrom(order.TotalShippingPriceSet, currency)},
		{Type: domain.TotalTypeDiscount, Amount: moneyFrom(order.TotalDiscountsSet, currency)},
		{Type: domain.TotalTypeTotal, Amount: moneyFrom(order.TotalPriceSet, currency)},
	}
	if due := moneyFrom(order.TotalOutstandingSet, currency); money.ToMinorUnits(due.Amount, due.CurrencyCode) != 0 {
		totals = append(totals, Total{Type: domain.TotalTypeDue, Amount: due})
	}
	return totals
}

// fulfillmentExpectations derives the declared fulfillment grouping from the
// order's shipping destination: one expectation covering every line.
func fulfillmentExpectations(order shopify.Order, items []OrderLineItem) []domain.FulfillmentExpectation {
	destination := addressFromBackend(order.ShippingAddress)
	if destination == nil {
		return nil
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return []domain.FulfillmentExpectation{{
		ID:          expectationIDPrefix + shopify.LegacyID(order.ID),
		Destination: destination,
		LineItemIDs: ids,
	}}
}

func fulfillmentEvents(order shopify.Order) []FulfillmentEvent {
	if len(order.Fulfillments) == 0 {
		return nil
	}
	events := make([]FulfillmentEvent, 0, len(order.Fulfillments))
	for _, fulfillment := range order.Fulfillments {
		event := FulfillmentEvent{
			ID:        shopify.LegacyID(fulfillment.ID),
			Status:    mapFulfillmentStatus(fulfillment.Status),
			CreatedAt: fulfillment.CreatedAt,
		}
		for _, line := range fulfillment.FulfillmentLineItems.Nodes() {
			if line.LineItem.ID != "" {
				event.LineItemIDs = append(event.LineItemIDs, shopify.LegacyID(line.LineItem.ID))
			}
		}
		if len(fulfillment.TrackingInfo) > 0 {
			event.TrackingNumber = fulfillment.TrackingInfo[0].Number
			event.TrackingURL = fulfillment.TrackingInfo[0].URL
			event.Carrier = fulfillment.TrackingInfo[0].Company
		}
		events = append(events, event)
	}
	return events
}

func mapFulfillmentStatus(status string) domain.FulfillmentStatus {
	if mapped, ok := fulfillmentStatusMapping[strings.ToUpper(strings.TrimSpace(status))]; ok {
		return mapped
	}
	return domain.FulfillmentStatusPending
}

// orderAdjustments projects backend refunds as append-only adjustments.
func orderAdjustments(order shopify.Order) []Adjustment {
	if len(order.Refunds) == 0 {
		return nil
	}
	adjustments := make([]Adjustment, 0, len(order.Refunds))
	for _, refund := range order.Refunds {
		adjustments = append(adjustments, Adjustment{
			ID:        shopify.LegacyID(refund.ID),
			Type:      domain.AdjustmentTypeRefund,
			Amount:    moneyFrom(refund.TotalRefundedSet, order.CurrencyCode),
			Reason:    refund.Note,
			CreatedAt: refund.CreatedAt,
		})
	}
	return adjustments
}
