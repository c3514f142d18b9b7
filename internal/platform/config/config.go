// Package config loads runtime configuration from the environment with an
// optional .env file for local development. Precedence, lowest to highest:
// built-in defaults, .env file, process environment, explicit override map.
// Secret-bearing fields may hold secret:// references that Load resolves
// through a SecretResolver.
package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShopifyAPIVersion   = "2024-10"
	defaultShopifyTimeout      = 15 * time.Second
	defaultCheckoutCurrency    = "USD"
	defaultCheckoutRecordTTL   = 24 * time.Hour
	defaultSecurityEnvironment = "local"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Shopify     ShopifyConfig
	Checkout    CheckoutConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ShopifyConfig identifies the Admin API shop and credentials.
type ShopifyConfig struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
	Timeout     time.Duration
}

// CheckoutConfig tunes cart and checkout session behaviour.
type CheckoutConfig struct {
	DefaultCurrency string
	RecordTTL       time.Duration
}

// SecurityConfig groups agent authentication and webhook verification
// settings. RequireAgentAuth makes a missing JWKS URL a startup failure
// instead of an unauthenticated API.
type SecurityConfig struct {
	Environment      string
	AgentJWKSURL     string
	AgentAudience    string
	AgentIssuers     []string
	WebhookSecrets   []string
	RequireAgentAuth bool
}

// IdempotencyConfig controls the idempotency middleware and its store.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves secret:// references to secret values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError names every missing or invalid configuration field.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: missing or invalid fields: " + strings.Join(e.fields, ", ")
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError reports a failed secret reference resolution.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved to nothing. The
// display form hashes the names so log lines never identify which secret a
// deployment is missing.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return "missing required secrets [" + strings.Join(e.RedactedNames(), ", ") + "]"
}

// Names returns the sorted config paths of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns the hashed identifiers used in logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactName(name))
	}
	sort.Strings(out)
	return out
}

func redactName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

var errNoResolver = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loader)

type loader struct {
	envFile   string
	overrides map[string]string
	systemEnv bool
	resolver  SecretResolver
	required  []string
}

func newLoader(opts []Option) loader {
	l := loader{envFile: defaultEnvFile, systemEnv: true}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

// WithEnvFile points Load at a different .env file.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithEnvMap supplies explicit values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(l *loader) { l.overrides = values }
}

// WithoutSystemEnv ignores the process environment, for hermetic tests.
func WithoutSystemEnv() Option {
	return func(l *loader) { l.systemEnv = false }
}

// WithSecretResolver installs the resolver used for secret:// references.
func WithSecretResolver(r SecretResolver) Option {
	return func(l *loader) { l.resolver = r }
}

// WithRequiredSecrets marks secret fields that must resolve to a non-empty
// value, named by config path such as "Shopify.AccessToken" or
// "Security.WebhookSecrets[0]".
func WithRequiredSecrets(names ...string) Option {
	return func(l *loader) { l.required = append(l.required, names...) }
}

// EnvironmentValues returns the merged key/value environment using the same
// precedence as Load, for callers that need raw values before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	l := newLoader(opts)
	e, err := l.sources()
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(e.dotenv)+len(e.overrides))
	for key, value := range e.dotenv {
		values[key] = value
	}
	if e.systemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range e.overrides {
		values[key] = value
	}
	return values, nil
}

// Load assembles the bridge configuration, resolves secret references, and
// validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	l := newLoader(opts)
	e, err := l.sources()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("BRIDGE_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("BRIDGE_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("BRIDGE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.duration("BRIDGE_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Shopify: ShopifyConfig{
			ShopDomain:  e.str("BRIDGE_SHOPIFY_SHOP_DOMAIN", ""),
			AccessToken: e.str("BRIDGE_SHOPIFY_ACCESS_TOKEN", ""),
			APIVersion:  e.str("BRIDGE_SHOPIFY_API_VERSION", defaultShopifyAPIVersion),
			Timeout:     e.duration("BRIDGE_SHOPIFY_TIMEOUT", defaultShopifyTimeout),
		},
		Checkout: CheckoutConfig{
			DefaultCurrency: strings.ToUpper(e.str("BRIDGE_CHECKOUT_DEFAULT_CURRENCY", defaultCheckoutCurrency)),
			RecordTTL:       e.duration("BRIDGE_CHECKOUT_RECORD_TTL", defaultCheckoutRecordTTL),
		},
		Security: SecurityConfig{
			Environment:      strings.ToLower(e.str("BRIDGE_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			AgentJWKSURL:     e.str("BRIDGE_SECURITY_AGENT_JWKS_URL", ""),
			AgentAudience:    e.str("BRIDGE_SECURITY_AGENT_AUDIENCE", ""),
			AgentIssuers:     e.csv("BRIDGE_SECURITY_AGENT_ISSUERS"),
			WebhookSecrets:   e.csv("BRIDGE_SECURITY_WEBHOOK_SECRETS"),
			RequireAgentAuth: e.boolean("BRIDGE_SECURITY_REQUIRE_AGENT_AUTH", false),
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("BRIDGE_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              e.duration("BRIDGE_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.duration("BRIDGE_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.integer("BRIDGE_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	resolved, err := resolveSecrets(ctx, &cfg, l.resolver)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(l.required, resolved); len(missing) > 0 {
		return Config{}, &MissingSecretsError{names: missing}
	}
	return cfg, nil
}

// resolveSecrets walks the secret-bearing fields, replaces secret://
// references with their values, and records every field for the
// required-secrets check.
func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	resolved := make(map[string]string)

	resolve := func(name string, field *string) error {
		value, err := resolveReference(ctx, *field, resolver)
		if err != nil {
			return err
		}
		*field = value
		resolved[name] = strings.TrimSpace(value)
		return nil
	}

	if err := resolve("Shopify.AccessToken", &cfg.Shopify.AccessToken); err != nil {
		return nil, err
	}
	for i := range cfg.Security.WebhookSecrets {
		name := fmt.Sprintf("Security.WebhookSecrets[%d]", i)
		if err := resolve(name, &cfg.Security.WebhookSecrets[i]); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func resolveReference(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref, ok := secretRef(value)
	if !ok {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errNoResolver}
	}
	out, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return out, nil
}

// secretRef reports whether value is a secret reference and returns it in
// canonical secret:// form. The sm:// scheme is accepted as an alias.
func secretRef(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(trimmed, "secret://"):
		return trimmed, true
	case strings.HasPrefix(trimmed, "sm://"):
		return "secret://" + strings.TrimPrefix(trimmed, "sm://"), true
	}
	return "", false
}

func (c Config) validate() error {
	var bad []string
	require := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	require(c.Server.Port != "", "Server.Port")
	require(strings.TrimSpace(c.Shopify.ShopDomain) != "", "Shopify.ShopDomain")
	require(strings.TrimSpace(c.Shopify.AccessToken) != "", "Shopify.AccessToken")
	require(strings.TrimSpace(c.Shopify.APIVersion) != "", "Shopify.APIVersion")
	require(c.Checkout.RecordTTL > 0, "Checkout.RecordTTL")
	require(strings.TrimSpace(c.Idempotency.Header) != "", "Idempotency.Header")
	require(c.Idempotency.TTL > 0, "Idempotency.TTL")
	require(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	if c.Security.RequireAgentAuth {
		require(strings.TrimSpace(c.Security.AgentJWKSURL) != "", "Security.AgentJWKSURL")
	}

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

func missingSecrets(required []string, resolved map[string]string) []string {
	var missing []string
	seen := make(map[string]struct{}, len(required))
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// env is the merged view of the configuration sources.
type env struct {
	overrides map[string]string
	systemEnv bool
	dotenv    map[string]string
}

func (l loader) sources() (env, error) {
	dotenv, err := loadDotEnv(l.envFile)
	if err != nil {
		return env{}, err
	}
	return env{overrides: l.overrides, systemEnv: l.systemEnv, dotenv: dotenv}, nil
}

func (e env) get(key string) (string, bool) {
	if value, ok := e.overrides[key]; ok {
		return value, true
	}
	if e.systemEnv {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := e.dotenv[key]
	return value, ok
}

func (e env) str(key, fallback string) string {
	if value, ok := e.get(key); ok && value != "" {
		return value
	}
	return fallback
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := e.get(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	if value, ok := e.get(key); ok && value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func (e env) boolean(key string, fallback bool) bool {
	if value, ok := e.get(key); ok && value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

func (e env) csv(key string) []string {
	raw, ok := e.get(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	values, err := parseDotEnv(file)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

// parseDotEnv reads KEY=VALUE lines, skipping comments and blanks. An
// optional "export " prefix and single or double quotes around the value
// are stripped.
func parseDotEnv(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
