package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dorrio/shopify-ucp-bridge/internal/platform/auth"
	"github.com/dorrio/shopify-ucp-bridge/internal/platform/httpx"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "X-Idempotent-Replay"

	// maxBody bounds how much of a request the fingerprint will hash. The
	// handlers reject anything larger, so the guard does too.
	maxBody = 1 << 20

	anonymousOwner = "anonymous"
)

var errBodyTooLarge = errors.New("idempotency: request body too large")

// Logger is the printf surface the guard logs persistence failures through.
type Logger interface {
	Printf(format string, args ...any)
}

// MiddlewareOption adjusts the guard installed by Middleware.
type MiddlewareOption func(*guard)

type guard struct {
	store   Store
	header  string
	ttl     time.Duration
	methods map[string]struct{}
	clock   func() time.Time
	logger  Logger
}

// WithHeader renames the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			g.header = trimmed
		}
	}
}

// WithTTL sets the replay window for captured responses.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods replaces the set of guarded HTTP methods.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		guarded := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			method = strings.ToUpper(strings.TrimSpace(method))
			if method != "" {
				guarded[method] = struct{}{}
			}
		}
		if len(guarded) > 0 {
			g.methods = guarded
		}
	}
}

// WithLogger wires store failures into the caller's logger.
func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) { g.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware guards mutating requests behind an idempotency key. Requests on
// guarded methods must carry the key header; retries that match the original
// request get the stored response back with X-Idempotent-Replay set, and
// key reuse for a different request is rejected with a conflict.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	g := &guard{
		store:   store,
		header:  defaultHeader,
		ttl:     DefaultTTL,
		methods: mutatingMethods(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	if len(g.methods) == 0 {
		g.methods = mutatingMethods()
	}
	if g.clock == nil {
		g.clock = time.Now
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, guarded := g.methods[r.Method]; !guarded {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next)
		})
	}
}

func mutatingMethods() map[string]struct{} {
	return map[string]struct{}{
		http.MethodPost:   {},
		http.MethodPut:    {},
		http.MethodPatch:  {},
		http.MethodDelete: {},
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	value := strings.TrimSpace(r.Header.Get(g.header))
	if value == "" {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+g.header+" header", http.StatusBadRequest))
		return
	}

	body, err := swapBody(r)
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_read_body_failed", "unable to read request body", http.StatusInternalServerError))
		return
	}

	key := Key{Value: value, Owner: ownerFromContext(ctx)}
	fingerprint := g.fingerprint(r, key.Owner, body)

	reservation, err := g.store.Reserve(ctx, key, fingerprint, g.clock().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	case err != nil:
		g.printf("idempotency: reserve %q: %v", value, err)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusInternalServerError))
		return
	case reservation.InFlight:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
		return
	case reservation.Replay != nil:
		g.replay(w, *reservation.Replay)
		return
	}

	capture := newCaptureWriter(w)
	next.ServeHTTP(capture, r)

	saved := Response{
		StatusCode: capture.statusCode(),
		Header:     capture.headerClone(),
		Body:       capture.bodyBytes(),
	}
	if err := g.store.SaveResponse(ctx, key, fingerprint, saved, g.clock().UTC(), g.ttl); err != nil {
		g.printf("idempotency: save %q: %v", value, err)
		if err := g.store.Release(ctx, key); err != nil {
			g.printf("idempotency: release %q: %v", value, err)
		}
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to persist idempotency state", http.StatusInternalServerError))
		return
	}
	if err := capture.flush(); err != nil {
		g.printf("idempotency: flush %q: %v", value, err)
	}
}

// fingerprint binds a key to the request that first used it. A retry must
// match method, host, route, content type, caller, and body to replay.
func (g *guard) fingerprint(r *http.Request, owner string, body []byte) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.Host,
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		owner,
		bodyDigest(body),
	}
	return digest(strings.Join(parts, "\x00"))
}

func bodyDigest(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return digest(string(body))
}

// ownerFromContext scopes keys to the verified agent so one agent can never
// replay another's responses. Deployments without agent auth share a single
// owner.
func ownerFromContext(ctx context.Context) string {
	if agent, ok := auth.AgentFromContext(ctx); ok && agent != nil && agent.Subject != "" {
		return agent.Subject
	}
	return anonymousOwner
}

// swapBody drains the request body so it can be hashed, then puts a fresh
// reader back for the handler.
func swapBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	if len(data) > maxBody {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func (g *guard) replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name := range header {
		header.Del(name)
	}
	for name, values := range record.Response.Header {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	header.Set(replayHeader, "true")

	status := record.Response.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.Response.Body) > 0 {
		_, _ = w.Write(record.Response.Body)
	}
}

func (g *guard) printf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

// captureWriter buffers the handler's response so it can be stored before
// anything reaches the client.
type captureWriter struct {
	dst    http.ResponseWriter
	header http.Header
	status int
	buf    bytes.Buffer
}

func newCaptureWriter(dst http.ResponseWriter) *captureWriter {
	return &captureWriter{dst: dst, header: make(http.Header)}
}

func (c *captureWriter) Header() http.Header {
	return c.header
}

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 && status > 0 {
		c.status = status
	}
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.buf.Write(p)
}

func (c *captureWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *captureWriter) bodyBytes() []byte {
	if c.buf.Len() == 0 {
		return nil
	}
	return c.buf.Bytes()
}

func (c *captureWriter) headerClone() http.Header {
	if len(c.header) == 0 {
		return http.Header{}
	}
	clone := make(http.Header, len(c.header))
	for name, values := range c.header {
		clone[name] = append([]string(nil), values...)
	}
	return clone
}

// flush copies the buffered response onto the real writer.
func (c *captureWriter) flush() error {
	dst := c.dst.Header()
	for name := range dst {
		dst.Del(name)
	}
	for name, values := range c.header {
		for _, value := range values {
			dst.Add(name, value)
		}
	}
	c.dst.WriteHeader(c.statusCode())
	if c.buf.Len() == 0 {
		return nil
	}
	_, err := c.dst.Write(c.buf.Bytes())
	return err
}
