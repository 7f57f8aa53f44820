// Package idempotency provides deterministic operation keys and a claim
// store so retried or overlapping workflows (refill scans, replacement
// triggers) create their side effect exactly once.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// Key builds a deterministic key from its parts.
func Key(parts ...string) string {
	data := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Inbox claims operation keys. Begin returns true exactly once per key;
// later claims of the same key return false. Release frees a claimed key
// so the caller can surrender a claim whose side effect did not happen.
type Inbox interface {
	Begin(ctx context.Context, key, handler string) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryInbox is an in-process Inbox for tests and single-node dev mode.
type MemoryInbox struct {
	mu   sync.Mutex
	seen map[string]string
}

// NewMemoryInbox creates an empty inbox.
func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{seen: make(map[string]string)}
}

// Begin claims the key.
func (m *MemoryInbox) Begin(ctx context.Context, key, handler string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = handler
	return true, nil
}

// Release frees the key for a later claim.
func (m *MemoryInbox) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}
