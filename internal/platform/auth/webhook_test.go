package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func signWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyShopifyAcceptsSignedDelivery(t *testing.T) {
	verifier := NewWebhookVerifier([]string{"shpss_secret"}, WithWebhookLogger(noopLogger{}))

	body := []byte(`{"id":901,"financial_status":"paid"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewReader(body))
	req.Header.Set(ShopifyHmacHeader, signWebhookBody("shpss_secret", body))
	req.Header.Set(ShopifyTopicHeader, "orders/updated")
	req.Header.Set(ShopifyShopDomainHeader, "demo.myshopify.com")
	req.Header.Set(ShopifyWebhookIDHeader, "wh-123")
	req.Header.Set(ShopifyTriggeredAtHeader, "2026-03-01T10:00:00Z")

	rr := httptest.NewRecorder()
	verifier.VerifyShopify()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := WebhookMetadataFromContext(r.Context())
		if !ok {
			t.Fatalf("expected webhook metadata in context")
		}
		if meta.Topic != "orders/updated" {
			t.Fatalf("unexpected topic %q", meta.Topic)
		}
		if meta.ShopDomain != "demo.myshopify.com" {
			t.Fatalf("unexpected shop domain %q", meta.ShopDomain)
		}
		if meta.TriggeredAt.IsZero() {
			t.Fatalf("expected triggered at to parse")
		}

		replayed, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read restored body: %v", err)
		}
		if !bytes.Equal(replayed, body) {
			t.Fatalf("body not restored: %s", replayed)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestVerifyShopifyAcceptsRotatedSecret(t *testing.T) {
	verifier := NewWebhookVerifier([]string{"new-secret", "old-secret"}, WithWebhookLogger(noopLogger{}))

	body := []byte(`{"id":902}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewReader(body))
	req.Header.Set(ShopifyHmacHeader, signWebhookBody("old-secret", body))

	rr := httptest.NewRecorder()
	verifier.VerifyShopify()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected rotated secret to verify, got %d", rr.Code)
	}
}

func TestVerifyShopifyRejectsBadSignature(t *testing.T) {
	verifier := NewWebhookVerifier([]string{"shpss_secret"}, WithWebhookLogger(noopLogger{}))

	body := []byte(`{"id":903}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewReader(body))
	req.Header.Set(ShopifyHmacHeader, signWebhookBody("wrong-secret", body))

	rr := httptest.NewRecorder()
	verifier.VerifyShopify()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestVerifyShopifyRejectsMissingHeader(t *testing.T) {
	verifier := NewWebhookVerifier([]string{"shpss_secret"}, WithWebhookLogger(noopLogger{}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewReader([]byte(`{}`)))

	rr := httptest.NewRecorder()
	verifier.VerifyShopify()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestVerifyShopifyUnavailableWithoutSecrets(t *testing.T) {
	verifier := NewWebhookVerifier(nil, WithWebhookLogger(noopLogger{}))

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewReader(body))
	req.Header.Set(ShopifyHmacHeader, signWebhookBody("anything", body))

	rr := httptest.NewRecorder()
	verifier.VerifyShopify()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestVerifyShopifyRejectsOversizedBody(t *testing.T) {
	verifier := NewWebhookVerifier([]string{"shpss_secret"},
		WithWebhookLogger(noopLogger{}),
		WithWebhookMaxBody(16),
	)

	body := bytes.Repeat([]byte("x"), 64)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewReader(body))
	req.Header.Set(ShopifyHmacHeader, signWebhookBody("shpss_secret", body))

	rr := httptest.NewRecorder()
	verifier.VerifyShopify()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
}
