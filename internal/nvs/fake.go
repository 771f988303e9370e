package nvs

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. It is the test double for
// Store: errors can be injected per operation, and Commit can be made to
// stall until Release is called.
type MemoryStore struct {
	mu        sync.Mutex
	committed map[string]int32
	pending   map[string]int32
	corrupt   map[string]bool

	// GetError, if set, is returned by GetInt.
	GetError error
	// SetError, if set, is returned by SetInt.
	SetError error
	// CommitError, if set, is returned by Commit and nothing is committed.
	CommitError error

	// Commits counts successful commits.
	Commits int
	// Closed tracks whether Close was called.
	Closed bool

	stall chan struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		committed: make(map[string]int32),
		pending:   make(map[string]int32),
		corrupt:   make(map[string]bool),
	}
}

// Put writes a committed record directly, as if left by a previous run.
func (m *MemoryStore) Put(key string, value int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.committed[key] = value
	delete(m.corrupt, key)
}

// Corrupt marks key as unreadable until it is next written.
func (m *MemoryStore) Corrupt(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.corrupt[key] = true
}

// Committed returns the durable value of key, ignoring staged writes.
func (m *MemoryStore) Committed(key string) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.committed[key]

	return v, ok
}

// Stall makes subsequent Commit calls block until Release.
func (m *MemoryStore) Stall() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stall = make(chan struct{})
}

// Release unblocks commits held by Stall.
func (m *MemoryStore) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stall != nil {
		close(m.stall)
		m.stall = nil
	}
}

// GetInt implements Store.
func (m *MemoryStore) GetInt(_ context.Context, key string) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetError != nil {
		return 0, m.GetError
	}

	if v, ok := m.pending[key]; ok {
		return v, nil
	}

	if m.corrupt[key] {
		return 0, ErrCorrupt
	}

	v, ok := m.committed[key]
	if !ok {
		return 0, ErrNotFound
	}

	return v, nil
}

// SetInt implements Store.
func (m *MemoryStore) SetInt(_ context.Context, key string, value int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SetError != nil {
		return m.SetError
	}

	m.pending[key] = value

	return nil
}

// Commit implements Store.
func (m *MemoryStore) Commit(ctx context.Context) error {
	m.mu.Lock()
	stall := m.stall
	m.mu.Unlock()

	if stall != nil {
		select {
		case <-stall:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CommitError != nil {
		return m.CommitError
	}

	for k, v := range m.pending {
		m.committed[k] = v
		delete(m.corrupt, k)
	}

	clear(m.pending)
	m.Commits++

	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Closed = true

	return nil
}

// CommitCount returns Commits under the store lock.
func (m *MemoryStore) CommitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Commits
}

// Restart drops staged writes, as a power cycle would.
func (m *MemoryStore) Restart() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.pending)
}
