// Package session stores per-session flash messages.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/crudadmin/model"
)

// Flash message types.
const (
	FlashSuccess = "sonata_flash_success"
	FlashError   = "sonata_flash_error"
	FlashInfo    = "sonata_flash_info"
)

// FlashBag holds one-shot messages per session. Messages are appended by
// actions and drained by the page that displays them.
type FlashBag interface {
	Add(ctx context.Context, sessionID string, msg model.FlashMessage) error
	Peek(ctx context.Context, sessionID string) ([]model.FlashMessage, error)
	Drain(ctx context.Context, sessionID string) ([]model.FlashMessage, error)
}

// NewID returns a new random session identifier.
func NewID() string {
	return uuid.NewString()
}

// MemoryFlashBag is an in-memory FlashBag with per-session expiry.
// Suitable for testing and single-instance deployments.
type MemoryFlashBag struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*memBag
}

type memBag struct {
	messages  []model.FlashMessage
	expiresAt time.Time
}

// NewMemoryFlashBag creates an in-memory flash bag. A session's messages
// expire ttl after the last Add.
func NewMemoryFlashBag(ttl time.Duration) *MemoryFlashBag {
	return &MemoryFlashBag{ttl: ttl, entries: make(map[string]*memBag)}
}

// Add appends a message to the session's bag.
func (b *MemoryFlashBag) Add(_ context.Context, sessionID string, msg model.FlashMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bag := b.live(sessionID)
	if bag == nil {
		bag = &memBag{}
		b.entries[sessionID] = bag
	}
	bag.messages = append(bag.messages, msg)
	bag.expiresAt = time.Now().Add(b.ttl)
	return nil
}

// Peek returns the session's messages without removing them.
func (b *MemoryFlashBag) Peek(_ context.Context, sessionID string) ([]model.FlashMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bag := b.live(sessionID)
	if bag == nil {
		return nil, nil
	}
	return append([]model.FlashMessage(nil), bag.messages...), nil
}

// Drain returns and removes the session's messages.
func (b *MemoryFlashBag) Drain(_ context.Context, sessionID string) ([]model.FlashMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bag := b.live(sessionID)
	delete(b.entries, sessionID)
	if bag == nil {
		return nil, nil
	}
	return bag.messages, nil
}

// live returns the unexpired bag for sessionID. Callers hold the lock.
func (b *MemoryFlashBag) live(sessionID string) *memBag {
	bag, ok := b.entries[sessionID]
	if !ok {
		return nil
	}
	if time.Now().After(bag.expiresAt) {
		delete(b.entries, sessionID)
		return nil
	}
	return bag
}
