package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dorrio/shopify-ucp-bridge/internal/platform/httpx"
)

const (
	apiPrefix      = "/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar mounts one feature's endpoints onto a router group.
type RouteRegistrar func(r chi.Router)

// Option customises the router before construction.
type Option func(*routerConfig)

type routerConfig struct {
	middlewares        []func(http.Handler) http.Handler
	apiMiddlewares     []func(http.Handler) http.Handler
	webhookMiddlewares []func(http.Handler) http.Handler

	health    *HealthHandlers
	carts     RouteRegistrar
	checkouts RouteRegistrar
	orders    RouteRegistrar
	webhooks  RouteRegistrar
}

// NewRouter assembles the HTTP surface: health probes at the root, the
// versioned agent API under /v1, and Shopify webhook intake under /webhooks.
// API middlewares guard only the /v1 group; webhook middlewares guard only
// /webhooks, so signature checks never apply to agent traffic and vice versa.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	useAll(r, cfg.middlewares)

	r.NotFound(missingRoute)
	r.MethodNotAllowed(wrongMethod)

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		useAll(api, cfg.apiMiddlewares)
		mountGroup(api, "/carts", "carts", cfg.carts)
		mountGroup(api, "/checkouts", "checkouts", cfg.checkouts)
		mountGroup(api, "/orders", "orders", cfg.orders)
	})

	r.Route("/webhooks", func(group chi.Router) {
		useAll(group, cfg.webhookMiddlewares)
		if cfg.webhooks != nil {
			cfg.webhooks(group)
			return
		}
		stubGroup(group, "webhooks")
	})

	return r
}

func useAll(r chi.Router, middlewares []func(http.Handler) http.Handler) {
	for _, mw := range middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func mountGroup(api chi.Router, path, name string, registrar RouteRegistrar) {
	api.Route(path, func(group chi.Router) {
		if registrar != nil {
			registrar(group)
			return
		}
		stubGroup(group, name)
	})
}

// stubGroup answers 501 for a feature group that has no registrar.
func stubGroup(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}

func missingRoute(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
}

func wrongMethod(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
}

// WithMiddlewares appends middleware applied to every route, health probes
// included.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithAPIMiddlewares appends middleware applied only to the /v1 group.
func WithAPIMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.apiMiddlewares = append(cfg.apiMiddlewares, mw...)
	}
}

// WithWebhookMiddlewares appends middleware applied only to /webhooks.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.webhookMiddlewares = append(cfg.webhookMiddlewares, mw...)
	}
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCartRoutes mounts the cart endpoints under /v1/carts.
func WithCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.carts = reg
	}
}

// WithCheckoutRoutes mounts the checkout endpoints under /v1/checkouts.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.checkouts = reg
	}
}

// WithOrderRoutes mounts the order endpoints under /v1/orders.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.orders = reg
	}
}

// WithWebhookRoutes mounts the webhook intake endpoints under /webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.webhooks = reg
	}
}
