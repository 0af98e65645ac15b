package replay

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Cache. It enforces per-key expiry on read and prunes
// expired keys with a janitor loop, so long-lived processes do not accumulate
// dead entries. State is lost on restart; deployments that must keep a replay
// window closed across restarts front it with the badger backend.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
	stop    chan struct{}
	stopped sync.Once
}

// NewMemory constructs the cache and starts its janitor.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]time.Time),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go m.janitor(time.Minute)
	return m
}

func (m *Memory) Put(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.now().Add(ttl)
	return nil
}

func (m *Memory) PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.entries[key]; ok && m.now().Before(exp) {
		return false, nil
	}
	m.entries[key] = m.now().Add(ttl)
	return true, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if !m.now().Before(exp) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

// Close stops the janitor. Safe to call more than once.
func (m *Memory) Close() error {
	m.stopped.Do(func() { close(m.stop) })
	return nil
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.prune()
		}
	}
}

func (m *Memory) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, key)
		}
	}
}
