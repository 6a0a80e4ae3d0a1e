package signup

import "sync"

type Scope string

const (
	ScopeSession Scope = "session"
	ScopeDurable Scope = "durable"
)

// VerifiedStore remembers the last verified email per scope.
type VerifiedStore interface {
	SaveVerified(scope Scope, email string) error
	LoadVerified(scope Scope) (string, bool)
}

type MemoryStore struct {
	mu     sync.RWMutex
	emails map[Scope]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{emails: map[Scope]string{}}
}

func (m *MemoryStore) SaveVerified(scope Scope, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails[scope] = email
	return nil
}

func (m *MemoryStore) LoadVerified(scope Scope) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.emails[scope]
	return e, ok
}
