package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/dorrio/shopify-ucp-bridge/internal/domain"
	"github.com/dorrio/shopify-ucp-bridge/internal/platform/pagination"
	"github.com/dorrio/shopify-ucp-bridge/internal/shopify"
)

func orderFixture(checkoutToken string) shopify.Order {
	return shopify.Order{
		ID:            "gid://shopify/Order/901",
		Name:          "#1001",
		StatusPageURL: "https://shop.example/orders/901/status",
		CurrencyCode:  "USD",
		Tags:          []string{checkoutScopeTag, checkoutToken},
		Email:         "buyer@example.com",
		ShippingAddress: &shopify.MailingAddress{
			FirstName:   "Ada",
			LastName:    "Lovelace",
			Address1:    "12 Crescent Row",
			City:        "London",
			CountryCode: "GB",
			Zip:         "N1 9GU",
		},
		SubtotalPriceSet:      moneyBag("40.00", "USD"),
		TotalTaxSet:           moneyBag("4.00", "USD"),
		TotalShippingPriceSet: moneyBag("5.00", "USD"),
		TotalDiscountsSet:     moneyBag("0.00", "USD"),
		TotalPriceSet:         moneyBag("49.00", "USD"),
		TotalOutstandingSet:   moneyBag("49.00", "USD"),
		LineItems: shopify.Connection[shopify.OrderLineItem]{
			Edges: []shopify.Edge[shopify.OrderLineItem]{{
				Node: shopify.OrderLineItem{
					ID:                   "gid://shopify/LineItem/51",
					Title:                "Field Notes",
					Quantity:             3,
					FulfillableQuantity:  1,
					Variant:              &shopify.ResourceStub{ID: "gid://shopify/ProductVariant/7001"},
					OriginalUnitPriceSet: moneyBag("10.00", "USD"),
				},
			}},
		},
		Fulfillments: []shopify.Fulfillment{{
			ID:        "gid://shopify/Fulfillment/31",
			Status:    "SUCCESS",
			CreatedAt: time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC),
			TrackingInfo: []shopify.TrackingInfo{{
				Number:  "1Z999AA10123456784",
				URL:     "https://track.example/1Z999AA10123456784",
				Company: "UPS",
			}},
			FulfillmentLineItems: shopify.Connection[shopify.FulfillmentLineItem]{
				Edges: []shopify.Edge[shopify.FulfillmentLineItem]{{
					Node: shopify.FulfillmentLineItem{
						ID:       "gid://shopify/FulfillmentLineItem/61",
						Quantity: 2,
						LineItem: shopify.ResourceStub{ID: "gid://shopify/LineItem/51"},
					},
				}},
			},
		}},
		Refunds: []shopify.Refund{{
			ID:               "gid://shopify/Refund/41",
			Note:             "damaged in transit",
			CreatedAt:        time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC),
			TotalRefundedSet: moneyBag("10.00", "USD"),
		}},
		CreatedAt: time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC),
	}
}

func newOrderService(t *testing.T, backend shopify.Executor) OrderService {
	t.Helper()
	service, err := NewOrderService(OrderServiceDeps{Backend: backend})
	if err != nil {
		t.Fatalf("unexpected error constructing order service: %v", err)
	}
	return service
}

func TestOrderServiceGetMapsOrder(t *testing.T) {
	token := checkoutIDPrefix + testULID
	backend := &stubExecutor{responses: []string{
		mustMarshal(t, map[string]any{"order": orderFixture(token)}),
	}}

	service := newOrderService(t, backend)
	order, err := service.Get(context.Background(), "901")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := backend.calls[0].variables["id"]; got != shopify.OrderGID("901") {
		t.Fatalf("expected order gid, got %#v", got)
	}
	if order.ID != "901" {
		t.Fatalf("expected order id 901, got %s", order.ID)
	}
	if order.CheckoutID != token {
		t.Fatalf("expected checkout id %s, got %s", token, order.CheckoutID)
	}
	if order.PermalinkURL != "https://shop.example/orders/901/status" {
		t.Fatalf("unexpected permalink %q", order.PermalinkURL)
	}

	if len(order.LineItems) != 1 {
		t.Fatalf("expected 1 line item, got %d", len(order.LineItems))
	}
	item := order.LineItems[0]
	if item.ID != "51" || item.Quantity != 3 {
		t.Fatalf("unexpected line item %#v", item)
	}
	if item.FulfilledQuantity != 2 || item.FulfillableQuantity != 1 {
		t.Fatalf("expected 2 fulfilled of 3, got %#v", item)
	}

	if len(order.Totals) != 6 {
		t.Fatalf("expected 6 totals entries with due, got %d", len(order.Totals))
	}
	if order.Totals[5].Type != "due" || order.Totals[5].Amount.Amount != "49.00" {
		t.Fatalf("unexpected due total %#v", order.Totals[5])
	}

	if len(order.Fulfillment.Expectations) != 1 {
		t.Fatalf("expected 1 expectation, got %#v", order.Fulfillment.Expectations)
	}
	expectation := order.Fulfillment.Expectations[0]
	if expectation.ID != "fe_901" {
		t.Fatalf("unexpected expectation id %s", expectation.ID)
	}
	if expectation.Destination == nil || expectation.Destination.City != "London" {
		t.Fatalf("unexpected destination %#v", expectation.Destination)
	}
	if len(expectation.LineItemIDs) != 1 || expectation.LineItemIDs[0] != "51" {
		t.Fatalf("unexpected expectation lines %#v", expectation.LineItemIDs)
	}

	if len(order.Fulfillment.Events) != 1 {
		t.Fatalf("expected 1 fulfillment event, got %#v", order.Fulfillment.Events)
	}
	event := order.Fulfillment.Events[0]
	if event.ID != "31" || event.Status != domain.FulfillmentStatusDelivered {
		t.Fatalf("unexpected event %#v", event)
	}
	if event.TrackingNumber != "1Z999AA10123456784" || event.Carrier != "UPS" {
		t.Fatalf("unexpected tracking %#v", event)
	}
	if len(event.LineItemIDs) != 1 || event.LineItemIDs[0] != "51" {
		t.Fatalf("unexpected event lines %#v", event.LineItemIDs)
	}

	if len(order.Adjustments) != 1 {
		t.Fatalf("expected 1 adjustment, got %#v", order.Adjustments)
	}
	adjustment := order.Adjustments[0]
	if adjustment.Type != domain.AdjustmentTypeRefund || adjustment.ID != "41" {
		t.Fatalf("unexpected adjustment %#v", adjustment)
	}
	if adjustment.Amount.Amount != "10.00" || adjustment.Reason != "damaged in transit" {
		t.Fatalf("unexpected adjustment detail %#v", adjustment)
	}
}

func TestOrderServiceGetNoDueWhenSettled(t *testing.T) {
	order := orderFixture(checkoutIDPrefix + testULID)
	order.TotalOutstandingSet = moneyBag("0.00", "USD")
	backend := &stubExecutor{responses: []string{
		mustMarshal(t, map[string]any{"order": order}),
	}}

	service := newOrderService(t, backend)
	mapped, err := service.Get(context.Background(), "901")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mapped.Totals) != 5 {
		t.Fatalf("expected 5 totals without due, got %#v", mapped.Totals)
	}
}

func TestOrderServiceGetEmptyID(t *testing.T) {
	backend := &stubExecutor{}
	service := newOrderService(t, backend)

	_, err := service.Get(context.Background(), "  ")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(backend.calls) != 0 {
		t.Fatalf("expected no backend call, got %d", len(backend.calls))
	}
}

func TestOrderServiceGetMiss(t *testing.T) {
	backend := &stubExecutor{responses: []string{`{"order":null}`}}
	service := newOrderService(t, backend)

	_, err := service.Get(context.Background(), "999")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrderServiceListPages(t *testing.T) {
	backend := &stubExecutor{responses: []string{
		ordersResponse(t, true, "cursor-42", orderFixture(checkoutIDPrefix+testULID)),
	}}

	service := newOrderService(t, backend)
	page, err := service.List(context.Background(), Pagination{PageSize: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(page.Items))
	}
	if page.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}

	call := backend.calls[0]
	if call.variables["first"] != 5 {
		t.Fatalf("expected page size 5, got %#v", call.variables["first"])
	}
	if _, present := call.variables["query"]; present {
		t.Fatalf("order listing must not filter by tag, got %#v", call.variables["query"])
	}

	cursor, err := pagination.DecodeToken(page.NextPageToken)
	if err != nil {
		t.Fatalf("unexpected error decoding token: %v", err)
	}
	if cursor.After != "cursor-42" {
		t.Fatalf("expected cursor-42, got %q", cursor.After)
	}
}

func TestOrderServiceGetByCheckoutID(t *testing.T) {
	token := checkoutIDPrefix + testULID
	backend := &stubExecutor{responses: []string{
		ordersResponse(t, false, "", orderFixture(token)),
	}}

	service := newOrderService(t, backend)
	order, err := service.GetByCheckoutID(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order == nil || order.CheckoutID != token {
		t.Fatalf("expected order for checkout %s, got %#v", token, order)
	}

	call := backend.calls[0]
	if call.variables["query"] != "tag:'"+token+"'" {
		t.Fatalf("unexpected tag query %#v", call.variables["query"])
	}
	if call.variables["first"] != 1 {
		t.Fatalf("expected single-record search, got %#v", call.variables["first"])
	}
}

func TestOrderServiceGetByCheckoutIDMiss(t *testing.T) {
	backend := &stubExecutor{responses: []string{
		ordersResponse(t, false, ""),
	}}

	service := newOrderService(t, backend)
	order, err := service.GetByCheckoutID(context.Background(), checkoutIDPrefix+testULID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Fatalf("expected nil for unmatched checkout, got %#v", order)
	}
}

func TestOrderServiceGetByCheckoutIDMalformedToken(t *testing.T) {
	backend := &stubExecutor{}
	service := newOrderService(t, backend)

	order, err := service.GetByCheckoutID(context.Background(), "definitely-not-a-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Fatalf("expected nil for malformed token, got %#v", order)
	}
	if len(backend.calls) != 0 {
		t.Fatalf("expected no backend call for malformed token, got %d", len(backend.calls))
	}
}

func TestOrderServiceCount(t *testing.T) {
	backend := &stubExecutor{responses: []string{`{"ordersCount":{"count":12}}`}}
	service := newOrderService(t, backend)

	count, err := service.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 12 {
		t.Fatalf("expected 12, got %d", count)
	}
}

func TestOrderServiceFulfillmentStatusMapping(t *testing.T) {
	cases := map[string]domain.FulfillmentStatus{
		"SUCCESS":        domain.FulfillmentStatusDelivered,
		"success":        domain.FulfillmentStatusDelivered,
		" in_progress ":  domain.FulfillmentStatusInTransit,
		"OPEN":           domain.FulfillmentStatusInTransit,
		"FAILURE":        domain.FulfillmentStatusFailed,
		"CANCELLED":      domain.FulfillmentStatusFailed,
		"":               domain.FulfillmentStatusPending,
		"something-else": domain.FulfillmentStatusPending,
	}
	for status, want := range cases {
		if got := mapFulfillmentStatus(status); got != want {
			t.Fatalf("status %q: expected %s, got %s", status, want, got)
		}
	}
}

func TestOrderServiceOrderWithoutShippingHasNoExpectation(t *testing.T) {
	order := orderFixture(checkoutIDPrefix + testULID)
	order.ShippingAddress = nil
	backend := &stubExecutor{responses: []string{
		mustMarshal(t, map[string]any{"order": order}),
	}}

	service := newOrderService(t, backend)
	mapped, err := service.Get(context.Background(), "901")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mapped.Fulfillment.Expectations) != 0 {
		t.Fatalf("expected no expectations, got %#v", mapped.Fulfillment.Expectations)
	}
}

func TestOrderServiceExternalOrderHasNoCheckoutID(t *testing.T) {
	order := orderFixture(checkoutIDPrefix + testULID)
	order.Tags = []string{"wholesale"}
	backend := &stubExecutor{responses: []string{
		mustMarshal(t, map[string]any{"order": order}),
	}}

	service := newOrderService(t, backend)
	mapped, err := service.Get(context.Background(), "901")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mapped.CheckoutID != "" {
		t.Fatalf("expected empty checkout id, got %q", mapped.CheckoutID)
	}
}
