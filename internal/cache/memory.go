package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"branchpos/backend/internal/domain"
)

type cartEntry struct {
	cart    domain.Cart
	expires time.Time
}

// MemorySessionStore is the single-process SessionStore used when redis is
// not configured.
type MemorySessionStore struct {
	mu      sync.Mutex
	now     func() time.Time
	carts   map[string]cartEntry
	revoked map[string]time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		now:     time.Now,
		carts:   make(map[string]cartEntry),
		revoked: make(map[string]time.Time),
	}
}

func (m *MemorySessionStore) LoadCart(_ context.Context, sessionID string) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.carts[sessionID]
	if !ok {
		return domain.Cart{}, nil
	}
	if m.expired(entry.expires) {
		delete(m.carts, sessionID)
		return domain.Cart{}, nil
	}
	cart := entry.cart
	cart.Lines = slices.Clone(cart.Lines)
	return cart, nil
}

func (m *MemorySessionStore) SaveCart(_ context.Context, sessionID string, cart domain.Cart, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart.Lines = slices.Clone(cart.Lines)
	m.carts[sessionID] = cartEntry{cart: cart, expires: m.deadline(ttl)}
	return nil
}

func (m *MemorySessionStore) DeleteCart(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.carts, sessionID)
	return nil
}

func (m *MemorySessionStore) Revoke(_ context.Context, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.revoked[sessionID] = m.deadline(ttl)
	delete(m.carts, sessionID)
	return nil
}

func (m *MemorySessionStore) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires, ok := m.revoked[sessionID]
	if !ok {
		return false, nil
	}
	if m.expired(expires) {
		delete(m.revoked, sessionID)
		return false, nil
	}
	return true, nil
}

// deadline returns the zero time for ttl <= 0, which never expires.
func (m *MemorySessionStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemorySessionStore) expired(deadline time.Time) bool {
	return !deadline.IsZero() && !m.now().Before(deadline)
}

// LocalLocker serializes work inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Obtain(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrLocked
	}
	l.held[key] = struct{}{}
	return func(context.Context) error {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
		return nil
	}, nil
}
