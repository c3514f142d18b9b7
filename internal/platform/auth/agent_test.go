package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

func TestJWKSCacheReusesFetchedKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	jwk := jose.JSONWebKey{
		Key:       &key.PublicKey,
		KeyID:     "key1",
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}

	var mu sync.Mutex
	var requests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=3600")
		if err := json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}); err != nil {
			t.Fatalf("encode jwks: %v", err)
		}
	}))
	t.Cleanup(server.Close)

	cache := NewJWKSCache(server.URL,
		WithJWKSLogger(noopLogger{}),
		WithJWKSClock(func() time.Time { return time.Unix(1_000_000, 0) }),
	)

	ctx := context.Background()
	got, err := cache.Key(ctx, "key1")
	if err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	if _, ok := got.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", got)
	}

	if _, err := cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("cache.Key second call: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if requests != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", requests)
	}
}

func TestRequireAgentAcceptsValidToken(t *testing.T) {
	verifier, token := setupAgentTest(t, func(claims jwt.MapClaims) {
		claims["aud"] = "https://bridge.example.com"
		claims["iss"] = "https://agents.example.com"
		claims["name"] = "shopbot"
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/carts", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	verifier.RequireAgent()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent, ok := AgentFromContext(r.Context())
		if !ok {
			t.Fatalf("expected agent in context")
		}
		if agent.Subject != "agent-1" {
			t.Fatalf("unexpected subject %q", agent.Subject)
		}
		if agent.Name != "shopbot" {
			t.Fatalf("unexpected agent name %q", agent.Name)
		}
		if agent.Issuer != "https://agents.example.com" {
			t.Fatalf("unexpected issuer %q", agent.Issuer)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRequireAgentRejectsAudienceMismatch(t *testing.T) {
	verifier, token := setupAgentTest(t, func(claims jwt.MapClaims) {
		claims["aud"] = "https://elsewhere.example.com"
		claims["iss"] = "https://agents.example.com"
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/carts", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	verifier.RequireAgent()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestRequireAgentRejectsUnknownIssuer(t *testing.T) {
	verifier, token := setupAgentTest(t, func(claims jwt.MapClaims) {
		claims["aud"] = "https://bridge.example.com"
		claims["iss"] = "https://rogue.example.com"
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/carts", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	verifier.RequireAgent()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestRequireAgentRejectsMissingHeader(t *testing.T) {
	verifier, _ := setupAgentTest(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/carts", nil)

	verifier.RequireAgent()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestRequireAgentUnavailableWhenJWKSUnreachable(t *testing.T) {
	verifier, token := setupAgentTest(t, func(claims jwt.MapClaims) {
		claims["aud"] = "https://bridge.example.com"
		claims["iss"] = "https://agents.example.com"
	})

	verifier.cache.url = "http://127.0.0.1:1/jwks.json"

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/carts", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	verifier.RequireAgent()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func setupAgentTest(t *testing.T, mutateClaims func(jwt.MapClaims)) (*AgentVerifier, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	jwk := jose.JSONWebKey{
		Key:       &key.PublicKey,
		KeyID:     "agent-key",
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=600")
		if err := json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}); err != nil {
			t.Fatalf("encode jwks: %v", err)
		}
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	originalTimeFunc := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = originalTimeFunc })

	cache := NewJWKSCache(server.URL,
		WithJWKSLogger(noopLogger{}),
		WithJWKSClock(func() time.Time { return now }),
	)
	verifier := NewAgentVerifier(cache, "https://bridge.example.com", []string{"https://agents.example.com"},
		WithAgentLogger(noopLogger{}),
	)

	claims := jwt.MapClaims{
		"aud": "https://bridge.example.com",
		"iss": "https://agents.example.com",
		"sub": "agent-1",
		"exp": float64(now.Add(time.Hour).Unix()),
		"iat": float64(now.Unix()),
	}
	if mutateClaims != nil {
		mutateClaims(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "agent-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return verifier, signed
}
