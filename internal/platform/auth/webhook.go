package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

var errWebhookBodyTooLarge = errors.New("auth: webhook body too large")

// Shopify webhook headers. The signature covers the raw request body and
// nothing else; there is no timestamp or nonce in the scheme.
const (
	ShopifyHmacHeader        = "X-Shopify-Hmac-Sha256"
	ShopifyTopicHeader       = "X-Shopify-Topic"
	ShopifyShopDomainHeader  = "X-Shopify-Shop-Domain"
	ShopifyWebhookIDHeader   = "X-Shopify-Webhook-Id"
	ShopifyAPIVersionHeader  = "X-Shopify-Api-Version"
	ShopifyTriggeredAtHeader = "X-Shopify-Triggered-At"
)

const defaultMaxWebhookBody = 1 << 20

// WebhookMetadata describes a verified webhook delivery for downstream handlers.
type WebhookMetadata struct {
	Topic       string
	ShopDomain  string
	WebhookID   string
	APIVersion  string
	TriggeredAt time.Time
}

type webhookContextKey struct{}

// WithWebhookMetadata stores the delivery metadata on the context.
func WithWebhookMetadata(ctx context.Context, meta *WebhookMetadata) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, webhookContextKey{}, meta)
}

// WebhookMetadataFromContext retrieves metadata stored by the middleware.
func WebhookMetadataFromContext(ctx context.Context) (*WebhookMetadata, bool) {
	meta, ok := ctx.Value(webhookContextKey{}).(*WebhookMetadata)
	if !ok || meta == nil {
		return nil, false
	}
	return meta, true
}

// WebhookVerifier authenticates Shopify webhook deliveries by recomputing the
// base64 HMAC-SHA256 of the raw body. Multiple secrets are accepted so a
// rotation window never drops deliveries.
type WebhookVerifier struct {
	secrets [][]byte
	logger  Logger
	maxBody int64
}

// WebhookOption customises the verifier.
type WebhookOption func(*WebhookVerifier)

// NewWebhookVerifier constructs a verifier from the configured shared secrets.
// Empty entries are discarded.
func NewWebhookVerifier(secrets []string, opts ...WebhookOption) *WebhookVerifier {
	verifier := &WebhookVerifier{
		logger:  log.Default(),
		maxBody: defaultMaxWebhookBody,
	}
	for _, secret := range secrets {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		verifier.secrets = append(verifier.secrets, []byte(secret))
	}

	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}

	return verifier
}

// WithWebhookLogger overrides the verifier logger.
func WithWebhookLogger(logger Logger) WebhookOption {
	return func(v *WebhookVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithWebhookMaxBody caps how many body bytes are read for verification.
func WithWebhookMaxBody(limit int64) WebhookOption {
	return func(v *WebhookVerifier) {
		if limit > 0 {
			v.maxBody = limit
		}
	}
}

// VerifyShopify rejects any request whose signature does not match one of the
// configured secrets. On success the raw body is restored for the next
// handler and delivery metadata rides the context.
func (v *WebhookVerifier) VerifyShopify() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if v == nil || len(v.secrets) == 0 {
				respondAuthError(r.Context(), w, http.StatusServiceUnavailable, "verification_unavailable", "webhook secret not configured")
				return
			}

			signature := strings.TrimSpace(r.Header.Get(ShopifyHmacHeader))
			if signature == "" {
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "signature_missing", "webhook signature header missing")
				return
			}

			provided, err := base64.StdEncoding.DecodeString(signature)
			if err != nil {
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "signature_invalid", "webhook signature encoding invalid")
				return
			}

			body, err := v.readAndRestoreBody(r)
			if err != nil {
				if errors.Is(err, errWebhookBodyTooLarge) {
					respondAuthError(r.Context(), w, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook body exceeds allowed size")
					return
				}
				respondAuthError(r.Context(), w, http.StatusBadRequest, "invalid_body", "unable to read webhook body")
				return
			}

			if !v.matchesAnySecret(body, provided) {
				if v.logger != nil {
					v.logger.Printf("auth: webhook signature mismatch (topic %q)", r.Header.Get(ShopifyTopicHeader))
				}
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "signature_mismatch", "webhook signature verification failed")
				return
			}

			meta := &WebhookMetadata{
				Topic:      strings.TrimSpace(r.Header.Get(ShopifyTopicHeader)),
				ShopDomain: strings.TrimSpace(r.Header.Get(ShopifyShopDomainHeader)),
				WebhookID:  strings.TrimSpace(r.Header.Get(ShopifyWebhookIDHeader)),
				APIVersion: strings.TrimSpace(r.Header.Get(ShopifyAPIVersionHeader)),
			}
			if raw := strings.TrimSpace(r.Header.Get(ShopifyTriggeredAtHeader)); raw != "" {
				if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
					meta.TriggeredAt = ts.UTC()
				}
			}

			next.ServeHTTP(w, r.WithContext(WithWebhookMetadata(ctx, meta)))
		})
	}
}

func (v *WebhookVerifier) matchesAnySecret(body, provided []byte) bool {
	for _, secret := range v.secrets {
		mac := hmac.New(sha256.New, secret)
		_, _ = mac.Write(body)
		if hmac.Equal(provided, mac.Sum(nil)) {
			return true
		}
	}
	return false
}

func (v *WebhookVerifier) readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	limit := v.maxBody
	if limit <= 0 {
		limit = defaultMaxWebhookBody
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, errWebhookBodyTooLarge
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}
