package shopify

import "testing"

func TestGIDComposition(t *testing.T) {
	if got := VariantGID("123"); got != "gid://shopify/ProductVariant/123" {
		t.Fatalf("VariantGID = %q", got)
	}
	if got := DraftOrderGID("99"); got != "gid://shopify/DraftOrder/99" {
		t.Fatalf("DraftOrderGID = %q", got)
	}
	if got := GID(KindOrder, ""); got != "" {
		t.Fatalf("expected empty gid for empty id, got %q", got)
	}
}

func TestGIDPassthrough(t *testing.T) {
	full := "gid://shopify/ProductVariant/456"
	if got := VariantGID(full); got != full {
		t.Fatalf("expected passthrough, got %q", got)
	}
	if got := ProductGID(full); got != full {
		t.Fatalf("expected passthrough regardless of kind, got %q", got)
	}
}

func TestIsVariantGID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"gid://shopify/ProductVariant/123", true},
		{"ProductVariant/123", true},
		{"gid://shopify/Product/123", false},
		{"123", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsVariantGID(tc.id); got != tc.want {
			t.Errorf("IsVariantGID(%q) = %v, expected %v", tc.id, got, tc.want)
		}
	}
}

func TestLegacyID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"gid://shopify/DraftOrder/1052604227864", "1052604227864"},
		{"gid://shopify/Order/123?key=abc", "123"},
		{"plain-id", "plain-id"},
		{" 42 ", "42"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := LegacyID(tc.in); got != tc.want {
			t.Errorf("LegacyID(%q) = %q, expected %q", tc.in, got, tc.want)
		}
	}
}
