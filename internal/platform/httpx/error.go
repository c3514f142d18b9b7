// Package httpx renders the JSON bodies the bridge puts on the wire: one
// envelope shape for every error and a shared writer for success payloads.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dorrio/shopify-ucp-bridge/internal/platform/requestctx"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
	traceLimit   = 64
)

// Error is the API error contract: a stable machine-readable code, a human
// readable message, and the HTTP status it travels with. Details are merged
// into the rendered envelope as additional top-level fields.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// Error satisfies the error interface so an Error can travel through plain
// error returns before a handler renders it.
func (e Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// NewError constructs an Error. A zero status falls back to 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, codeLimit),
		Message: clean(message, messageLimit),
		Status:  status,
	}
}

// WithRequestID pins the request identifier instead of reading it from context.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clean(id, idLimit)
	return e
}

// WithTraceID pins the trace identifier instead of reading it from context.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clean(id, traceLimit)
	return e
}

// WithDetails attaches extra top-level fields to the rendered envelope.
// Reserved envelope keys cannot be shadowed by a detail entry.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	copied := make(map[string]any, len(details))
	for k, v := range details {
		copied[k] = v
	}
	e.Details = copied
	return e
}

// WriteError renders err as the canonical envelope. Request and trace
// identifiers are pulled from the context unless the error already carries
// them, so callers normally pass the bare NewError result.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	requestID := err.RequestID
	if requestID == "" {
		requestID = clean(middleware.GetReqID(ctx), idLimit)
	}
	traceID := err.TraceID
	if traceID == "" {
		traceID = clean(requestctx.TraceID(ctx), traceLimit)
	}

	WriteJSON(w, status, envelope{
		code:      err.Code,
		message:   err.Message,
		status:    status,
		requestID: requestID,
		traceID:   traceID,
		extra:     err.Details,
	})
}

// WriteJSON writes payload as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// envelope is the rendered error shape. Extra detail fields are merged first
// so the reserved keys always win on collision.
type envelope struct {
	code      string
	message   string
	status    int
	requestID string
	traceID   string
	extra     map[string]any
}

func (e envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.extra)+5)
	for k, v := range e.extra {
		out[k] = v
	}
	out["error"] = e.code
	out["message"] = e.message
	out["status"] = e.status
	if e.requestID != "" {
		out["request_id"] = e.requestID
	}
	if e.traceID != "" {
		out["trace_id"] = e.traceID
	}
	return json.Marshal(out)
}

// clean replaces control characters with spaces, trims, and caps length so
// caller-supplied text cannot corrupt the envelope or log lines.
func clean(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	runes := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			r = ' '
		}
		runes = append(runes, r)
	}
	cleaned := strings.TrimSpace(string(runes))
	if capped := []rune(cleaned); len(capped) > limit {
		cleaned = strings.TrimSpace(string(capped[:limit]))
	}
	return cleaned
}
