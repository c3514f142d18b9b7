// Package idempotency makes mutating commerce calls safe to retry. Agents
// send an Idempotency-Key header on writes; the first response for each key
// is captured and replayed verbatim to identical retries, so a timed-out
// checkout completion can be resent without firing twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a captured response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch reports an idempotency key reused for a request
// whose method, path, body, or caller differs from the original.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request fingerprint")

// State tracks a record through its lifecycle.
type State string

const (
	// StateInFlight marks a key whose first request is still executing.
	StateInFlight State = "in_flight"
	// StateCaptured marks a key whose response has been stored for replay.
	StateCaptured State = "captured"
)

// Key identifies one idempotent operation. Owner is the verified agent
// subject; two agents sending the same key value never collide.
type Key struct {
	Value string
	Owner string
}

func (k Key) storageKey() string {
	return digest(strings.TrimSpace(k.Owner) + "\x00" + strings.TrimSpace(k.Value))
}

// Response is the subset of an HTTP response worth replaying.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Record is one stored idempotent response together with its bookkeeping.
type Record struct {
	Key         Key
	Fingerprint string
	State       State
	Response    Response
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// Reservation reports what Reserve found for a key. Both fields zero means
// the key is fresh and the caller should run the request.
type Reservation struct {
	// Replay carries the captured response when the key already completed.
	Replay *Record
	// InFlight is set when another request holds the key right now.
	InFlight bool
}

// Store persists idempotency records. Reserve must behave as an atomic
// check-and-set so two concurrent requests with one key cannot both proceed.
type Store interface {
	Reserve(ctx context.Context, key Key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key Key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key Key) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// hopByHop lists headers that describe the original transport rather than
// the resource; they are dropped before a response is stored.
var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Content-Length":      {},
	"Date":                {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func replayableHeader(src http.Header) http.Header {
	if len(src) == 0 {
		return nil
	}
	dst := make(http.Header, len(src))
	for name, values := range src {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := hopByHop[canonical]; skip {
			continue
		}
		dst[canonical] = append([]string(nil), values...)
	}
	if len(dst) == 0 {
		return nil
	}
	return dst
}
