package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dorrio/shopify-ucp-bridge/internal/handlers"
	"github.com/dorrio/shopify-ucp-bridge/internal/platform/auth"
	"github.com/dorrio/shopify-ucp-bridge/internal/platform/config"
	"github.com/dorrio/shopify-ucp-bridge/internal/platform/idempotency"
	"github.com/dorrio/shopify-ucp-bridge/internal/platform/observability"
	"github.com/dorrio/shopify-ucp-bridge/internal/platform/secrets"
	"github.com/dorrio/shopify-ucp-bridge/internal/services"
	"github.com/dorrio/shopify-ucp-bridge/internal/shopify"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("bridge")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	backend, err := shopify.NewClient(shopify.ClientConfig{
		ShopDomain:  cfg.Shopify.ShopDomain,
		AccessToken: cfg.Shopify.AccessToken,
		APIVersion:  cfg.Shopify.APIVersion,
		Timeout:     cfg.Shopify.Timeout,
		Logger:      zapEventLogger(logger.Named("shopify")),
	})
	if err != nil {
		logger.Fatal("failed to initialise shopify client", zap.Error(err))
	}

	formatter := services.NewFormatter(nil)

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Backend:         backend,
		Clock:           time.Now,
		DefaultCurrency: cfg.Checkout.DefaultCurrency,
		TTL:             cfg.Checkout.RecordTTL,
		Logger:          zapEventLogger(logger.Named("cart")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Backend:         backend,
		Clock:           time.Now,
		DefaultCurrency: cfg.Checkout.DefaultCurrency,
		TTL:             cfg.Checkout.RecordTTL,
		Logger:          zapEventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Backend: backend,
		Logger:  zapEventLogger(logger.Named("order")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewMemoryStore()
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	agentMiddleware := buildAgentMiddleware(logger.Named("auth"), cfg)
	webhookMiddleware := buildWebhookMiddleware(logger.Named("auth"), cfg)

	cartHandlers := handlers.NewCartHandlers(cartService, formatter)
	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService, orderService, formatter)
	orderHandlers := handlers.NewOrderHandlers(orderService, formatter)

	webhookLogger := logger.Named("webhooks")
	webhookHandlers := handlers.NewWebhookHandlers(func(ctx context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		observability.FromContextOr(ctx, webhookLogger).Info(event, zFields...)
	})

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithReadinessCheck("shopify", func(ctx context.Context) error {
			_, err := backend.Execute(ctx, shopify.ShopQuery, nil)
			return err
		}),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	apiMiddlewares := make([]func(http.Handler) http.Handler, 0, 2)
	if agentMiddleware != nil {
		apiMiddlewares = append(apiMiddlewares, agentMiddleware)
	} else {
		logger.Warn("agent JWKS URL not configured; API routes are unauthenticated")
	}
	apiMiddlewares = append(apiMiddlewares, idempotencyMiddleware)

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithAPIMiddlewares(apiMiddlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithCartRoutes(cartHandlers.Routes))
	opts = append(opts, handlers.WithCheckoutRoutes(checkoutHandlers.Routes))
	opts = append(opts, handlers.WithOrderRoutes(orderHandlers.Routes))
	if webhookMiddleware != nil {
		opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
		opts = append(opts, handlers.WithWebhookMiddlewares(webhookMiddleware))
	} else {
		logger.Warn("webhook signing secrets not configured; webhook intake disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("shopify ucp bridge listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// zapEventLogger adapts a zap logger to the event-callback shape the services
// and the Shopify client log through. Inside a request the context carries a
// logger already enriched with the request id and trace id; the named logger
// only serves calls made outside a request.
func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		observability.FromContextOr(ctx, logger).Debug(event, zFields...)
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["BRIDGE_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["BRIDGE_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	path := ""
	if env != nil {
		path = strings.TrimSpace(env["BRIDGE_SECRETS_FILE"])
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if path != "" {
		opts = append(opts, secrets.WithSecretsFile(path))
	}

	return secrets.NewFetcher(opts...)
}

// requiredSecretNames lists the config fields whose resolved values must be
// non-empty. Webhook secret slots are required only when the operator
// configured entries for them.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Shopify.AccessToken"}

	raw := ""
	if env != nil {
		raw = env["BRIDGE_SECURITY_WEBHOOK_SECRETS"]
	}
	index := 0
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		required = append(required, fmt.Sprintf("Security.WebhookSecrets[%d]", index))
		index++
	}

	return required
}

func buildAgentMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.AgentJWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.AgentJWKSURL, auth.WithJWKSLogger(adapter))

	audience := strings.TrimSpace(cfg.Security.AgentAudience)
	if audience == "" {
		logger.Warn("auth: agent audience not configured; API routes will reject requests")
	}
	issuers := cfg.Security.AgentIssuers
	if len(issuers) == 0 {
		logger.Warn("auth: agent issuers not configured; API routes will reject requests")
	}

	verifier := auth.NewAgentVerifier(cache, audience, issuers, auth.WithAgentLogger(adapter))
	return verifier.RequireAgent()
}

func buildWebhookMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	webhookSecrets := make([]string, 0, len(cfg.Security.WebhookSecrets))
	for _, secret := range cfg.Security.WebhookSecrets {
		if strings.TrimSpace(secret) == "" {
			continue
		}
		webhookSecrets = append(webhookSecrets, secret)
	}
	if len(webhookSecrets) == 0 {
		return nil
	}

	adapter := observability.NewPrintfAdapter(logger)
	verifier := auth.NewWebhookVerifier(webhookSecrets, auth.WithWebhookLogger(adapter))
	return verifier.VerifyShopify()
}
