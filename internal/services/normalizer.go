package services

import (
	"strings"

	"github.com/dorrio/shopify-ucp-bridge/internal/money"
	"github.com/dorrio/shopify-ucp-bridge/internal/shopify"
)

// DefaultCurrency applies when neither the request nor the line item names one.
const DefaultCurrency = "USD"

// IncomingItem is the nested product reference used by the protocol's native
// line-item envelope. Price is an integer amount in minor units.
type IncomingItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Price    *int64 `json:"price"`
	Currency string `json:"currency"`
}

// IncomingLineItem tolerates the accepted line-item request shapes: the
// nested envelope carrying an item object, and the flat shape carrying
// product and variant ids directly. Both may appear in one request.
type IncomingLineItem struct {
	Item       *IncomingItem     `json:"item"`
	ProductID  string            `json:"product_id"`
	VariantID  string            `json:"variant_id"`
	Quantity   int               `json:"quantity"`
	Title      string            `json:"title"`
	SKU        string            `json:"sku"`
	Properties map[string]string `json:"properties"`
}

// NormalizeLineItems collapses incoming line items into the canonical input
// form. Minor-unit prices become decimal strings, a product id that is really
// a variant reference backfills the variant id, and non-positive quantities
// default to one. Entries with no usable identity are dropped rather than
// rejected; the backend stays the source of validation errors.
func NormalizeLineItems(items []IncomingLineItem, requestCurrency string) []LineItemInput {
	if len(items) == 0 {
		return nil
	}
	normalized := make([]LineItemInput, 0, len(items))
	for _, raw := range items {
		input := LineItemInput{
			Quantity:   raw.Quantity,
			Title:      strings.TrimSpace(raw.Title),
			SKU:        strings.TrimSpace(raw.SKU),
			Properties: normalizeProperties(raw.Properties),
		}
		if raw.Item != nil {
			input.ProductID = strings.TrimSpace(raw.Item.ID)
			if input.Title == "" {
				input.Title = strings.TrimSpace(raw.Item.Title)
			}
			if raw.Item.Price != nil {
				currency := money.Normalize(firstNonEmpty(raw.Item.Currency, requestCurrency, DefaultCurrency))
				input.Price = &Money{
					Amount:       money.FromMinorUnits(*raw.Item.Price, currency),
					CurrencyCode: currency,
				}
			}
		} else {
			input.ProductID = strings.TrimSpace(raw.ProductID)
			input.VariantID = strings.TrimSpace(raw.VariantID)
		}
		if input.VariantID == "" && shopify.IsVariantGID(input.ProductID) {
			input.VariantID = input.ProductID
		}
		if input.Quantity <= 0 {
			input.Quantity = 1
		}
		if input.ProductID == "" && input.VariantID == "" && input.Title == "" {
			continue
		}
		normalized = append(normalized, input)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// normalizeProperties trims custom-attribute keys and values and drops entries
// whose key trims to nothing. An empty result becomes nil so that unset and
// empty property maps serialize the same way.
func normalizeProperties(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
