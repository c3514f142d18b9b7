// Package secrets resolves secret:// references for configuration values.
// Values come from the process environment or a local secrets file, are
// cached per reference, and can be invalidated when an operator rotates a
// secret. Subscribers receive a signal on invalidation so long-lived
// components can reload.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	defaultEnvPrefix   = "BRIDGE_SECRET_"
	defaultSecretsFile = ".secrets.local"
	scopeName          = "github.com/dorrio/shopify-ucp-bridge/internal/platform/secrets"
)

// Fetcher resolves secret references against an ordered chain of sources.
// The environment is consulted first, then the secrets file. Resolved
// values are cached until Invalidate drops them.
type Fetcher struct {
	logger  *zap.Logger
	sources []source

	mu     sync.Mutex
	closed bool
	cache  map[string]string
	subs   map[string][]chan struct{}

	resolveTime metric.Float64Histogram
	cacheHits   metric.Int64Counter
}

// source is one place a secret value can live. The name labels metrics.
type source struct {
	name   string
	lookup func(reference) (string, bool)
}

type settings struct {
	logger    *zap.Logger
	envPrefix string
	getenv    func(string) (string, bool)
	filePath  string
	meter     metric.Meter
}

// Option customises Fetcher construction.
type Option func(*settings)

// WithLogger sets the logger for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvPrefix overrides the prefix for environment-sourced secrets.
func WithEnvPrefix(prefix string) Option {
	return func(s *settings) { s.envPrefix = strings.TrimSpace(prefix) }
}

// WithEnvLookup replaces the environment lookup, primarily for tests.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(s *settings) { s.getenv = lookup }
}

// WithSecretsFile sets the path of the local secrets file. An empty path
// disables file lookups.
func WithSecretsFile(path string) Option {
	return func(s *settings) { s.filePath = strings.TrimSpace(path) }
}

// WithMeter injects the OpenTelemetry meter for resolution metrics.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// NewFetcher builds a Fetcher with the environment and, unless disabled,
// the secrets file as sources.
func NewFetcher(opts ...Option) (*Fetcher, error) {
	cfg := settings{
		logger:    zap.NewNop(),
		envPrefix: defaultEnvPrefix,
		getenv:    os.LookupEnv,
		filePath:  defaultSecretsFile,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.getenv == nil {
		cfg.getenv = os.LookupEnv
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(scopeName)
	}

	f := &Fetcher{
		logger: cfg.logger,
		cache:  make(map[string]string),
		subs:   make(map[string][]chan struct{}),
	}

	env := envSource{prefix: cfg.envPrefix, getenv: cfg.getenv}
	f.sources = append(f.sources, source{name: "env", lookup: env.lookup})
	if cfg.filePath != "" {
		file := &fileSource{path: cfg.filePath, logger: cfg.logger}
		f.sources = append(f.sources, source{name: "file", lookup: file.lookup})
	}

	var err error
	if f.resolveTime, err = meter.Float64Histogram(
		"secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"),
	); err != nil {
		cfg.logger.Warn("metric registration failed", zap.String("metric", "secrets.resolve.duration"), zap.Error(err))
		f.resolveTime = nil
	}
	if f.cacheHits, err = meter.Int64Counter(
		"secrets.resolve.cache_hits",
		metric.WithDescription("Resolutions served from the in-process cache"),
	); err != nil {
		cfg.logger.Warn("metric registration failed", zap.String("metric", "secrets.resolve.cache_hits"), zap.Error(err))
		f.cacheHits = nil
	}

	return f, nil
}

// Resolve returns the value for a secret:// reference, consulting the cache
// and then each source in order.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseRef(raw)
	if err != nil {
		return "", err
	}

	if value, ok := f.cached(ref); ok {
		f.markCacheHit(ctx, ref)
		f.observe(ctx, start, "cache")
		return value, nil
	}

	for _, src := range f.sources {
		value, ok := src.lookup(ref)
		if !ok {
			continue
		}
		f.remember(ref, value)
		f.observe(ctx, start, src.name)
		return value, nil
	}

	f.observe(ctx, start, "miss")
	return "", fmt.Errorf("secrets: no value for %s", ref.canonical)
}

// Invalidate drops every cached value for the reference and wakes its
// subscribers. Call it after rotating a secret so the next Resolve rereads
// the sources.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseRef(raw)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := ref.canonical + "#"
	for key := range f.cache {
		if strings.HasPrefix(key, prefix) {
			delete(f.cache, key)
		}
	}
	if f.closed {
		return
	}
	for _, ch := range f.subs[ref.canonical] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel that signals whenever the reference is
// invalidated, plus a cancel func that releases the subscription. The
// channel is closed when the fetcher shuts down; an unparseable reference
// yields an already closed channel.
func (f *Fetcher) Subscribe(raw string) (<-chan struct{}, func()) {
	ref, err := parseRef(raw)
	if err != nil {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}

	ch := make(chan struct{}, 1)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	f.subs[ref.canonical] = append(f.subs[ref.canonical], ch)
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		subs := f.subs[ref.canonical]
		remaining := subs[:0]
		for _, sub := range subs {
			if sub != ch {
				remaining = append(remaining, sub)
			}
		}
		if len(remaining) == 0 {
			delete(f.subs, ref.canonical)
		} else {
			f.subs[ref.canonical] = remaining
		}
	}
	return ch, cancel
}

// Close closes every subscriber channel. Resolve keeps working afterwards;
// subscriptions do not survive.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for name, subs := range f.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(f.subs, name)
	}
	return nil
}

func (f *Fetcher) cached(ref reference) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.cache[ref.key()]
	return value, ok
}

func (f *Fetcher) remember(ref reference, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[ref.key()] = value
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, outcome string) {
	if f.resolveTime == nil {
		return
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.resolveTime.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", outcome)))
}

func (f *Fetcher) markCacheHit(ctx context.Context, ref reference) {
	if f.cacheHits == nil {
		return
	}
	f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", maskRef(ref.canonical))))
}

// envSource maps secret names to environment variables, so the reference
// secret://shopify/admin-token reads BRIDGE_SECRET_SHOPIFY_ADMIN_TOKEN.
type envSource struct {
	prefix string
	getenv func(string) (string, bool)
}

func (s envSource) lookup(ref reference) (string, bool) {
	value, ok := s.getenv(envName(s.prefix, ref.name))
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// fileSource serves a KEY=VALUE file whose keys are secret:// references.
// The file holds one revision per secret, so a version pin resolves to
// whatever the file currently carries. The file is read once on first use.
type fileSource struct {
	path   string
	logger *zap.Logger

	once   sync.Once
	values map[string]string
	err    error
}

func (s *fileSource) lookup(ref reference) (string, bool) {
	s.once.Do(s.load)
	if s.err != nil {
		s.logger.Debug("secrets file unavailable", zap.Error(s.err))
		return "", false
	}
	value, ok := s.values[ref.canonical]
	return value, ok
}

func (s *fileSource) load() {
	s.values = make(map[string]string)

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		s.err = fmt.Errorf("secrets: open %s: %w", s.path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		ref, err := parseRef(key)
		if err != nil {
			s.logger.Debug("skipping secrets file entry", zap.Error(err))
			continue
		}
		s.values[ref.canonical] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		s.err = fmt.Errorf("secrets: read %s: %w", s.path, err)
	}
}

// reference is a parsed secret URI. canonical drops the query and fragment;
// version defaults to latest and selects a cache slot.
type reference struct {
	canonical string
	name      string
	version   string
}

func (r reference) key() string {
	return r.canonical + "#" + r.version
}

// parseRef validates a secret reference. The legacy sm:// scheme is
// accepted as an alias for secret://.
func parseRef(raw string) (reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if strings.HasPrefix(trimmed, "sm://") {
		trimmed = "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	canonical := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}

	return reference{canonical: canonical.String(), name: name, version: version}, nil
}

// envName maps a secret name such as shopify/admin-token to an environment
// variable fragment like SHOPIFY_ADMIN_TOKEN.
func envName(prefix, name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		default:
			return '_'
		}
	}, name)
	return prefix + mapped
}

// maskRef hashes a reference so metric labels never carry secret names.
func maskRef(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}
