package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeEnv struct {
	mu     sync.Mutex
	values map[string]string
	hits   map[string]int
}

func newFakeEnv(values map[string]string) *fakeEnv {
	if values == nil {
		values = make(map[string]string)
	}
	return &fakeEnv{values: values, hits: make(map[string]int)}
}

func (e *fakeEnv) lookup(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hits[name]++
	value, ok := e.values[name]
	return value, ok
}

func (e *fakeEnv) set(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[name] = value
}

func (e *fakeEnv) hitCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hits[name]
}

func newTestFetcher(t *testing.T, env *fakeEnv, opts ...Option) *Fetcher {
	t.Helper()
	opts = append([]Option{WithEnvLookup(env.lookup), WithSecretsFile("")}, opts...)
	fetcher, err := NewFetcher(opts...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { _ = fetcher.Close() })
	return fetcher
}

func writeSecretsFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
	return path
}

func TestResolveFromEnvironment(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"BRIDGE_SECRET_SHOPIFY_ADMIN_TOKEN": "shpat_env_value",
	})
	fetcher := newTestFetcher(t, env)

	value, err := fetcher.Resolve(context.Background(), "secret://shopify/admin-token")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "shpat_env_value" {
		t.Fatalf("value = %q, want env value", value)
	}
	if got := env.hitCount("BRIDGE_SECRET_SHOPIFY_ADMIN_TOKEN"); got != 1 {
		t.Fatalf("env lookups = %d, want 1", got)
	}
}

func TestResolveCachesValue(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"BRIDGE_SECRET_SHOPIFY_WEBHOOK": "original",
	})
	fetcher := newTestFetcher(t, env)

	first, err := fetcher.Resolve(context.Background(), "secret://shopify/webhook")
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	env.set("BRIDGE_SECRET_SHOPIFY_WEBHOOK", "rotated")

	second, err := fetcher.Resolve(context.Background(), "secret://shopify/webhook")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if first != "original" || second != "original" {
		t.Fatalf("got %q then %q, want the cached value twice", first, second)
	}
	if got := env.hitCount("BRIDGE_SECRET_SHOPIFY_WEBHOOK"); got != 1 {
		t.Fatalf("env lookups = %d, want 1", got)
	}
}

func TestResolveVersionedReferencesCacheSeparately(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"BRIDGE_SECRET_SHOPIFY_ADMIN_TOKEN": "shpat_value",
	})
	fetcher := newTestFetcher(t, env)

	refs := []string{
		"secret://shopify/admin-token",
		"secret://shopify/admin-token?version=2",
	}
	for _, ref := range refs {
		value, err := fetcher.Resolve(context.Background(), ref)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", ref, err)
		}
		if value != "shpat_value" {
			t.Fatalf("Resolve(%s) = %q", ref, value)
		}
	}
	if got := env.hitCount("BRIDGE_SECRET_SHOPIFY_ADMIN_TOKEN"); got != 2 {
		t.Fatalf("env lookups = %d, want one per version", got)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://shopify/admin-token?version=2"); err != nil {
		t.Fatalf("repeat Resolve: %v", err)
	}
	if got := env.hitCount("BRIDGE_SECRET_SHOPIFY_ADMIN_TOKEN"); got != 2 {
		t.Fatalf("env lookups = %d, want the versioned entry cached", got)
	}
}

func TestResolveFallsBackToFile(t *testing.T) {
	path := writeSecretsFile(t,
		"# local development secrets",
		"secret://shopify/webhook=shpss_file_value",
	)
	fetcher := newTestFetcher(t, newFakeEnv(nil), WithSecretsFile(path))

	value, err := fetcher.Resolve(context.Background(), "secret://shopify/webhook")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "shpss_file_value" {
		t.Fatalf("value = %q, want file value", value)
	}
}

func TestResolveEnvBeatsFile(t *testing.T) {
	path := writeSecretsFile(t, "secret://shopify/admin-token=file-token")
	env := newFakeEnv(map[string]string{
		"BRIDGE_SECRET_SHOPIFY_ADMIN_TOKEN": "env-token",
	})
	fetcher := newTestFetcher(t, env, WithSecretsFile(path))

	value, err := fetcher.Resolve(context.Background(), "secret://shopify/admin-token")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "env-token" {
		t.Fatalf("value = %q, want env to win", value)
	}
}

func TestResolveNormalizesLegacyScheme(t *testing.T) {
	path := writeSecretsFile(t, "sm://shopify/legacy=legacy-value")
	fetcher := newTestFetcher(t, newFakeEnv(nil), WithSecretsFile(path))

	for _, ref := range []string{"secret://shopify/legacy", "sm://shopify/legacy"} {
		value, err := fetcher.Resolve(context.Background(), ref)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", ref, err)
		}
		if value != "legacy-value" {
			t.Fatalf("Resolve(%s) = %q", ref, value)
		}
	}
}

func TestResolveMissingSecret(t *testing.T) {
	fetcher := newTestFetcher(t, newFakeEnv(nil))

	_, err := fetcher.Resolve(context.Background(), "secret://shopify/unknown")
	if err == nil {
		t.Fatal("expected error for unknown secret")
	}
	if !strings.Contains(err.Error(), "secret://shopify/unknown") {
		t.Fatalf("error should name the canonical reference, got %v", err)
	}
}

func TestResolveRejectsBadReferences(t *testing.T) {
	fetcher := newTestFetcher(t, newFakeEnv(nil))

	for name, ref := range map[string]string{
		"blank":          "   ",
		"wrong scheme":   "vault://shopify/admin-token",
		"no secret name": "secret://",
		"slashes only":   "secret:///",
	} {
		if _, err := fetcher.Resolve(context.Background(), ref); err == nil {
			t.Errorf("%s: expected error for %q", name, ref)
		}
	}
}

func TestFileSourceSkipsMalformedLines(t *testing.T) {
	path := writeSecretsFile(t,
		"# comment",
		"",
		"plain-key=nope",
		"vault://other/backend=nope",
		"secret://shopify/webhook=good",
	)
	fetcher := newTestFetcher(t, newFakeEnv(nil), WithSecretsFile(path))

	value, err := fetcher.Resolve(context.Background(), "secret://shopify/webhook")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "good" {
		t.Fatalf("value = %q", value)
	}
	if _, err := fetcher.Resolve(context.Background(), "secret://plain-key"); err == nil {
		t.Fatal("malformed file key should not be resolvable")
	}
}

func TestInvalidateDropsCacheAndNotifies(t *testing.T) {
	env := newFakeEnv(map[string]string{
		"BRIDGE_SECRET_SHOPIFY_WEBHOOK": "before-rotation",
	})
	fetcher := newTestFetcher(t, env)

	ref := "secret://shopify/webhook"
	if _, err := fetcher.Resolve(context.Background(), ref); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	updates, cancel := fetcher.Subscribe(ref)
	defer cancel()

	env.set("BRIDGE_SECRET_SHOPIFY_WEBHOOK", "after-rotation")
	fetcher.Invalidate(ref)

	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("expected rotation notification")
	}

	value, err := fetcher.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve after rotation: %v", err)
	}
	if value != "after-rotation" {
		t.Fatalf("value = %q, want rotated value", value)
	}
}

func TestSubscribeCancelStopsNotifications(t *testing.T) {
	fetcher := newTestFetcher(t, newFakeEnv(nil))

	updates, cancel := fetcher.Subscribe("secret://shopify/webhook")
	cancel()
	fetcher.Invalidate("secret://shopify/webhook")

	select {
	case <-updates:
		t.Fatal("cancelled subscription should not receive notifications")
	default:
	}
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	fetcher := newTestFetcher(t, newFakeEnv(nil))

	updates, cancel := fetcher.Subscribe("secret://shopify/webhook")
	defer cancel()

	if err := fetcher.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, open := <-updates:
		if open {
			t.Fatal("expected channel closed, got a notification")
		}
	case <-time.After(time.Second):
		t.Fatal("expected channel to be closed")
	}
}

func TestEnvName(t *testing.T) {
	for name, want := range map[string]string{
		"shopify/admin-token": "BRIDGE_SECRET_SHOPIFY_ADMIN_TOKEN",
		"db.primary-password": "BRIDGE_SECRET_DB_PRIMARY_PASSWORD",
		"TOKEN2":              "BRIDGE_SECRET_TOKEN2",
	} {
		if got := envName(defaultEnvPrefix, name); got != want {
			t.Errorf("envName(%q) = %q, want %q", name, got, want)
		}
	}
}
