package storage

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu      sync.Mutex
	state   State
	saved   bool
	history []Record
	max     int
}

// NewMemory returns a process-local Store.
func NewMemory() Store { return &memoryStore{max: defaultHistoryMax} }

func (m *memoryStore) LoadState(context.Context) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.saved, nil
}

func (m *memoryStore) SaveState(_ context.Context, st State) error {
	m.mu.Lock()
	m.state, m.saved = st, true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) AppendHistory(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, r)
	if over := len(m.history) - m.max; over > 0 {
		m.history = append([]Record(nil), m.history[over:]...)
	}
	return nil
}

func (m *memoryStore) History(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newestFirst(m.history, limit), nil
}

func (m *memoryStore) Close() error { return nil }

func newestFirst(records []Record, limit int) []Record {
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]Record, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out
}
