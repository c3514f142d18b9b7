package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. The bridge holds no state of
// its own, so replay protection only needs to cover the retry window of a
// single instance; nothing external backs it.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve claims the key for the caller, or reports what already holds it.
// Expired records are evicted on sight so a stale key behaves like a fresh
// one.
func (s *MemoryStore) Reserve(_ context.Context, key Key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.UTC()
	id := key.storageKey()

	existing, ok := s.records[id]
	if ok && expired(existing, now) {
		delete(s.records, id)
		ok = false
	}
	if !ok {
		s.records[id] = Record{
			Key:         key,
			Fingerprint: fingerprint,
			State:       StateInFlight,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(effectiveTTL(ttl)),
		}
		return Reservation{}, nil
	}

	if existing.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if existing.State == StateCaptured {
		record := existing
		return Reservation{Replay: &record}, nil
	}
	return Reservation{InFlight: true}, nil
}

// SaveResponse stores the response for the key and marks it replayable.
func (s *MemoryStore) SaveResponse(_ context.Context, key Key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.UTC()
	id := key.storageKey()

	record, ok := s.records[id]
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}

	record.State = StateCaptured
	record.Response = Response{
		StatusCode: resp.StatusCode,
		Header:     replayableHeader(resp.Header),
	}
	if len(resp.Body) > 0 {
		record.Response.Body = append([]byte(nil), resp.Body...)
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(effectiveTTL(ttl))
	s.records[id] = record
	return nil
}

// Release drops the reservation so the next attempt starts over. Called when
// a response could not be persisted.
func (s *MemoryStore) Release(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key.storageKey())
	return nil
}

// CleanupExpired removes up to limit expired records and reports how many
// went. A non-positive limit means no cap.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.UTC()
	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if !expired(record, now) {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed, nil
}

func expired(record Record, now time.Time) bool {
	return !record.ExpiresAt.IsZero() && !now.Before(record.ExpiresAt)
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
