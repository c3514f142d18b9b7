package shopify

import "strings"

const gidPrefix = "gid://shopify/"

// Resource kinds used when composing global ids.
const (
	KindProduct    = "Product"
	KindVariant    = "ProductVariant"
	KindDraftOrder = "DraftOrder"
	KindOrder      = "Order"
)

// GID composes a Shopify global id for the given resource kind. Values that
// already look like global ids pass through unchanged.
func GID(kind, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, gidPrefix) {
		return id
	}
	return gidPrefix + kind + "/" + id
}

// ProductGID composes a Product global id.
func ProductGID(id string) string { return GID(KindProduct, id) }

// VariantGID composes a ProductVariant global id.
func VariantGID(id string) string { return GID(KindVariant, id) }

// DraftOrderGID composes a DraftOrder global id.
func DraftOrderGID(id string) string { return GID(KindDraftOrder, id) }

// OrderGID composes an Order global id.
func OrderGID(id string) string { return GID(KindOrder, id) }

// IsGID reports whether the value carries the global id scheme.
func IsGID(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), gidPrefix)
}

// IsVariantGID reports whether the identifier embeds the ProductVariant type
// marker. Detection is deliberately lenient: callers hand in ids from several
// wire shapes and only the marker matters.
func IsVariantGID(id string) bool {
	return strings.Contains(id, KindVariant)
}

// LegacyID extracts the trailing numeric id from a global id. Non-gid input
// is returned trimmed, so the helper is safe on already-plain ids.
func LegacyID(gid string) string {
	trimmed := strings.TrimSpace(gid)
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}
