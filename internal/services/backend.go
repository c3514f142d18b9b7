package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dorrio/shopify-ucp-bridge/internal/platform/pagination"
	"github.com/dorrio/shopify-ucp-bridge/internal/shopify"
)

// fetchRoot executes one GraphQL document and decodes the named root field of
// the data envelope. Backend failures come back already translated into the
// service error taxonomy.
func fetchRoot[T any](ctx context.Context, backend shopify.Executor, document string, variables map[string]any, root string) (T, error) {
	var zero T
	data, err := backend.Execute(ctx, document, variables)
	if err != nil {
		return zero, translateBackendError(err)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return zero, fmt.Errorf("%w: decode %s: %v", ErrBackend, root, err)
	}
	raw, ok := envelope[root]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return zero, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("%w: decode %s: %v", ErrBackend, root, err)
	}
	return out, nil
}

// findDraftByToken resolves a public cart or checkout id to its backing draft
// order. Service-issued tokens resolve through a tag search; bare numeric ids
// from records created outside this service resolve directly.
func findDraftByToken(ctx context.Context, backend shopify.Executor, token, prefix string) (shopify.DraftOrder, error) {
	switch {
	case validToken(token, prefix):
		conn, err := fetchRoot[shopify.Connection[shopify.DraftOrder]](ctx, backend, shopify.DraftOrdersQuery, map[string]any{
			"first": 1,
			"query": tagQuery(token),
		}, "draftOrders")
		if err != nil {
			return shopify.DraftOrder{}, err
		}
		nodes := conn.Nodes()
		if len(nodes) == 0 {
			return shopify.DraftOrder{}, fmt.Errorf("%w: no record for id %q", ErrNotFound, token)
		}
		return nodes[0], nil
	case numericID(token):
		draft, err := fetchRoot[*shopify.DraftOrder](ctx, backend, shopify.DraftOrderQuery, map[string]any{
			"id": shopify.DraftOrderGID(token),
		}, "draftOrder")
		if err != nil {
			return shopify.DraftOrder{}, err
		}
		if draft == nil {
			return shopify.DraftOrder{}, fmt.Errorf("%w: no record for id %q", ErrNotFound, token)
		}
		return *draft, nil
	default:
		return shopify.DraftOrder{}, fmt.Errorf("%w: no record for id %q", ErrNotFound, token)
	}
}

func numericID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// pageSize clamps a requested page size into the supported window.
func pageSize(requested int) int {
	size := pagination.Must(pagination.Params{PageSize: requested}).PageSize
	if size > pagination.DefaultMaxPageSize {
		size = pagination.DefaultMaxPageSize
	}
	return size
}
