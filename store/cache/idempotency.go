// Package cache holds the idempotency store that deduplicates repeated
// chat submissions. Memory is the default; Redis is used when configured
// so several instances share one view.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// State is the outcome of claiming an idempotency key.
type State int

const (
	// StateAcquired means the caller owns the key and must Complete or Release it.
	StateAcquired State = iota
	// StateInFlight means another request holds the key.
	StateInFlight
	// StateCompleted means the key already has a stored response.
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateAcquired:
		return "acquired"
	case StateInFlight:
		return "in_flight"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

const (
	// DefaultPendingTTL bounds how long a crashed request can hold a key.
	DefaultPendingTTL = 2 * time.Minute
	// DefaultCompletedTTL is how long a stored response can be replayed.
	DefaultCompletedTTL = 24 * time.Hour
	// DefaultMemoryEntries caps the in-memory store.
	DefaultMemoryEntries = 10000
)

// IdempotencyStore claims keys and stores the response of completed ones.
type IdempotencyStore interface {
	// Acquire claims key. The payload is only set for StateCompleted.
	Acquire(ctx context.Context, key string) (State, []byte, error)
	// Complete stores payload for a key acquired by the caller.
	Complete(ctx context.Context, key string, payload []byte) error
	// Release drops a claim so the key can be retried.
	Release(ctx context.Context, key string) error
	Close() error
}

// Key builds the storage key of a client supplied idempotency key. Keys
// are scoped by user so two users can never collide.
func Key(userID, clientKey string) string {
	return strings.Join([]string{"idem", userID, KeyHash(clientKey)}, ":")
}

// KeyHash returns a short SHA256 digest of key.
func KeyHash(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])[:16]
}

type memoryEntry struct {
	completed bool
	payload   []byte
	expiresAt time.Time
}

// MemoryIdempotencyStore keeps keys in a bounded, expiring LRU. It is only
// consistent within a single process.
type MemoryIdempotencyStore struct {
	mu         sync.Mutex
	entries    *expirable.LRU[string, memoryEntry]
	pendingTTL time.Duration
	now        func() time.Time
}

// NewMemoryIdempotencyStore creates a store holding at most size keys.
func NewMemoryIdempotencyStore(size int, pendingTTL, completedTTL time.Duration) *MemoryIdempotencyStore {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	if completedTTL <= 0 {
		completedTTL = DefaultCompletedTTL
	}
	return &MemoryIdempotencyStore{
		entries:    expirable.NewLRU[string, memoryEntry](size, nil, completedTTL),
		pendingTTL: pendingTTL,
		now:        time.Now,
	}
}

func (m *MemoryIdempotencyStore) Acquire(_ context.Context, key string) (State, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries.Get(key); ok {
		if entry.completed {
			return StateCompleted, entry.payload, nil
		}
		// Pending claims expire sooner than the LRU TTL.
		if m.now().Before(entry.expiresAt) {
			return StateInFlight, nil, nil
		}
	}
	m.entries.Add(key, memoryEntry{expiresAt: m.now().Add(m.pendingTTL)})
	return StateAcquired, nil, nil
}

func (m *MemoryIdempotencyStore) Complete(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Add(key, memoryEntry{completed: true, payload: payload})
	return nil
}

func (m *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries.Peek(key); ok && !entry.completed {
		m.entries.Remove(key)
	}
	return nil
}

func (*MemoryIdempotencyStore) Close() error {
	return nil
}
