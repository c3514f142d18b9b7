package services

import (
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dorrio/shopify-ucp-bridge/internal/domain"
	"github.com/dorrio/shopify-ucp-bridge/internal/shopify"
)

// Correlation tags written onto backend records at creation time. The scope
// tag marks records owned by this service; the token tag carries the public
// id and survives draft-to-order conversion.
const (
	cartScopeTag     = "ucp-cart"
	checkoutScopeTag = "ucp-checkout"
	cartIDPrefix     = "cart_"
	checkoutIDPrefix = "chk_"
)

// defaultRecordTTL bounds how long carts and checkouts stay actionable. The
// expiry is computed from the backend creation time on every read; nothing is
// stored.
const defaultRecordTTL = 24 * time.Hour

func buyerEmail(buyer *Buyer) string {
	if buyer == nil {
		return ""
	}
	return strings.TrimSpace(buyer.Email)
}

// draftEmail prefers the draft's own email and falls back to the attached
// customer record.
func draftEmail(draft shopify.DraftOrder) string {
	if draft.Email != "" {
		return draft.Email
	}
	if draft.Customer != nil {
		return draft.Customer.Email
	}
	return ""
}

// tokenFromTags recovers the public id from a record's tags, falling back to
// the backend's numeric id for records created outside this service.
func tokenFromTags(tags []string, prefix string, backendID string) string {
	for _, tag := range tags {
		if strings.HasPrefix(tag, prefix) && validToken(tag, prefix) {
			return tag
		}
	}
	return shopify.LegacyID(backendID)
}

// checkoutIDFromTags recovers the checkout correlation token inherited by a
// completed order. Orders created outside this service yield an empty id.
func checkoutIDFromTags(tags []string) string {
	for _, tag := range tags {
		if strings.HasPrefix(tag, checkoutIDPrefix) && validToken(tag, checkoutIDPrefix) {
			return tag
		}
	}
	return ""
}

// validToken reports whether id is a well-formed prefixed ULID. Tokens are
// interpolated into backend search queries, so anything malformed is rejected
// before a query is built.
func validToken(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || len(rest) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(rest)
	return err == nil
}

func tagQuery(tag string) string {
	return "tag:'" + tag + "'"
}

func moneyFrom(bag shopify.MoneyBag, fallbackCurrency string) Money {
	amount := bag.ShopMoney.Amount
	if amount == "" {
		amount = "0"
	}
	currency := bag.ShopMoney.CurrencyCode
	if currency == "" {
		currency = fallbackCurrency
	}
	return Money{Amount: amount, CurrencyCode: currency}
}

func addressFromBackend(addr *shopify.MailingAddress) *Address {
	if addr == nil {
		return nil
	}
	mapped := Address{
		FirstName:    addr.FirstName,
		LastName:     addr.LastName,
		Company:      addr.Company,
		Address1:     addr.Address1,
		Address2:     addr.Address2,
		City:         addr.City,
		ProvinceCode: addr.ProvinceCode,
		CountryCode:  addr.CountryCode,
		Zip:          addr.Zip,
		Phone:        addr.Phone,
	}
	if mapped.Empty() {
		return nil
	}
	return &mapped
}

// buyerFromBackend populates a buyer only when the record carries customer
// identity; a bare record maps to nil rather than an empty struct.
func buyerFromBackend(customer *shopify.Customer, email string) *Buyer {
	if customer != nil {
		buyer := Buyer{
			Email:     customer.Email,
			FirstName: customer.FirstName,
			LastName:  customer.LastName,
			Phone:     customer.Phone,
		}
		if buyer.Email == "" {
			buyer.Email = email
		}
		if buyer != (Buyer{}) {
			return &buyer
		}
		return nil
	}
	if email != "" {
		return &Buyer{Email: email}
	}
	return nil
}

func attributesToProperties(attrs []shopify.Attribute) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	props := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		props[attr.Key] = attr.Value
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

func stubID(stub *shopify.ResourceStub) string {
	if stub == nil {
		return ""
	}
	return stub.ID
}

func lineItemFromDraft(line shopify.DraftOrderLineItem, currency string) LineItem {
	item := LineItem{
		ID:         shopify.LegacyID(line.ID),
		ProductID:  stubID(line.Product),
		VariantID:  stubID(line.Variant),
		Quantity:   line.Quantity,
		Title:      line.Title,
		SKU:        line.SKU,
		Properties: attributesToProperties(line.CustomAttributes),
	}
	if line.Image != nil {
		item.ImageURL = line.Image.URL
	}
	if line.OriginalUnitPriceSet.ShopMoney.Amount != "" {
		price := moneyFrom(line.OriginalUnitPriceSet, currency)
		item.Price = &price
	}
	return item
}

func lineItemsFromDraft(conn shopify.Connection[shopify.DraftOrderLineItem], currency string) []LineItem {
	nodes := conn.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	items := make([]LineItem, 0, len(nodes))
	for _, node := range nodes {
		items = append(items, lineItemFromDraft(node, currency))
	}
	return items
}

// draftTotals assembles the ordered totals set. Carts expose the three-entry
// form; checkouts always expose all five entries even when zero.
func draftTotals(draft shopify.DraftOrder, full bool) []Total {
	currency := draft.CurrencyCode
	totals := []Total{
		{Type: domain.TotalTypeSubtotal, Amount: moneyFrom(draft.SubtotalPriceSet, currency)},
		{Type: domain.TotalTypeTax, Amount: moneyFrom(draft.TotalTaxSet, currency)},
	}
	if full {
		totals = append(totals,
			Total{Type: domain.TotalTypeShipping, Amount: moneyFrom(draft.TotalShippingPriceSet, currency)},
			Total{Type: domain.TotalTypeDiscount, Amount: moneyFrom(draft.TotalDiscountsSet, currency)},
		)
	}
	return append(totals, Total{Type: domain.TotalTypeTotal, Amount: moneyFrom(draft.TotalPriceSet, currency)})
}

// draftOrderParams collects everything a create or update sends to the
// backend. Nil pointers are omitted from the input entirely so partial
// updates leave backend state untouched.
type draftOrderParams struct {
	LineItems       []LineItemInput
	HasLineItems    bool
	Email           *string
	ShippingAddress *Address
	BillingAddress  *Address
	Tags            []string
}

// draftOrderInput renders params into a DraftOrderInput value for the
// draftOrderCreate and draftOrderUpdate mutations.
func draftOrderInput(p draftOrderParams) map[string]any {
	input := map[string]any{}
	if p.HasLineItems {
		lines := make([]map[string]any, 0, len(p.LineItems))
		for _, item := range p.LineItems {
			lines = append(lines, lineItemInputToBackend(item))
		}
		input["lineItems"] = lines
	}
	if p.Email != nil {
		input["email"] = *p.Email
	}
	if p.ShippingAddress != nil {
		input["shippingAddress"] = addressToBackend(*p.ShippingAddress)
	}
	if p.BillingAddress != nil {
		input["billingAddress"] = addressToBackend(*p.BillingAddress)
	}
	if len(p.Tags) > 0 {
		input["tags"] = p.Tags
	}
	return input
}

// lineItemInputToBackend prefers a variant reference; anything without one
// becomes a custom line priced from the normalized input.
func lineItemInputToBackend(item LineItemInput) map[string]any {
	quantity := item.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	line := map[string]any{"quantity": quantity}
	if item.VariantID != "" {
		line["variantId"] = shopify.VariantGID(item.VariantID)
	} else {
		title := item.Title
		if title == "" {
			title = item.ProductID
		}
		line["title"] = title
		if item.Price != nil {
			line["originalUnitPriceWithCurrency"] = map[string]any{
				"amount":       item.Price.Amount,
				"currencyCode": item.Price.CurrencyCode,
			}
		}
	}
	if item.SKU != "" && item.VariantID == "" {
		line["sku"] = item.SKU
	}
	if len(item.Properties) > 0 {
		attrs := make([]map[string]any, 0, len(item.Properties))
		for _, key := range sortedKeys(item.Properties) {
			attrs = append(attrs, map[string]any{"key": key, "value": item.Properties[key]})
		}
		line["customAttributes"] = attrs
	}
	return line
}

func addressToBackend(addr Address) map[string]any {
	out := map[string]any{}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("firstName", addr.FirstName)
	set("lastName", addr.LastName)
	set("company", addr.Company)
	set("address1", addr.Address1)
	set("address2", addr.Address2)
	set("city", addr.City)
	set("provinceCode", addr.ProvinceCode)
	set("countryCode", addr.CountryCode)
	set("zip", addr.Zip)
	set("phone", addr.Phone)
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
