package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dorrio/shopify-ucp-bridge/internal/platform/auth"
	"github.com/dorrio/shopify-ucp-bridge/internal/platform/httpx"
)

const maxWebhookBodySize = 1 << 20

// WebhookHandlers ingests Shopify webhook deliveries. Signature verification
// happens in middleware before these handlers run; the bridge itself keeps no
// state, so deliveries are logged for operators and acknowledged immediately.
type WebhookHandlers struct {
	logger func(context.Context, string, map[string]any)
}

// NewWebhookHandlers constructs webhook handlers with the supplied event
// logging hook.
func NewWebhookHandlers(logger func(context.Context, string, map[string]any)) *WebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{logger: logger}
}

// Routes wires the webhook intake endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/shopify", h.receiveShopify)
}

// receiveShopify acknowledges a verified delivery. Responses other than 2xx
// make Shopify retry and eventually drop the subscription, so even payloads
// this service cannot interpret are logged and acknowledged.
func (h *WebhookHandlers) receiveShopify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	fields := map[string]any{}
	topic := ""
	if meta, ok := auth.WebhookMetadataFromContext(ctx); ok {
		topic = meta.Topic
		fields["topic"] = meta.Topic
		fields["shop_domain"] = meta.ShopDomain
		if meta.WebhookID != "" {
			fields["webhook_id"] = meta.WebhookID
		}
		if !meta.TriggeredAt.IsZero() {
			fields["triggered_at"] = meta.TriggeredAt.UTC().Format(time.RFC3339)
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		fields["error"] = err.Error()
		h.logger(ctx, "webhook.body_unreadable", fields)
		httpx.WriteJSON(w, http.StatusOK, webhookAckResponse{Received: true, Topic: topic})
		return
	}

	var resource webhookResource
	if err := json.Unmarshal(body, &resource); err != nil {
		fields["error"] = err.Error()
		h.logger(ctx, "webhook.unparsed", fields)
		httpx.WriteJSON(w, http.StatusOK, webhookAckResponse{Received: true, Topic: topic})
		return
	}

	if id := resource.ID.String(); id != "" && id != "0" {
		fields["resource_id"] = id
	}
	if gid := strings.TrimSpace(resource.AdminGraphqlAPIID); gid != "" {
		fields["resource_gid"] = gid
	}
	if name := strings.TrimSpace(resource.Name); name != "" {
		fields["resource_name"] = name
	}

	h.logger(ctx, "webhook.received", fields)
	httpx.WriteJSON(w, http.StatusOK, webhookAckResponse{Received: true, Topic: topic})
}

type webhookResource struct {
	ID                json.Number `json:"id"`
	AdminGraphqlAPIID string      `json:"admin_graphql_api_id"`
	Name              string      `json:"name"`
}

type webhookAckResponse struct {
	Received bool   `json:"received"`
	Topic    string `json:"topic,omitempty"`
}
