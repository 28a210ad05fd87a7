package notify

import "sync"

// Memory is an in-process callback registry. Correct only within a single
// process; used for tests and single-process deployments.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func()
	closed bool
}

var _ Notifier = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]func())}
}

func (m *Memory) Emit(name string) error {
	m.mu.RLock()
	fns := make([]func(), 0, len(m.subs[name]))
	for _, fn := range m.subs[name] {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

func (m *Memory) Subscribe(name string, fn func()) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return func() {}, nil
	}
	if m.subs[name] == nil {
		m.subs[name] = make(map[int]func())
	}
	id := m.nextID
	m.nextID++
	m.subs[name][id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[name], id)
	}, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[int]func())
	return nil
}
