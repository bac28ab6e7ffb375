package auth

import "sync"

// MockStore is an in-memory CredentialStore with error injection
type MockStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

// NewMockStore creates a new in-memory store
func NewMockStore() *MockStore {
	return &MockStore{sessions: make(map[string]*Session)}
}

func (m *MockStore) Store(session *Session) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if session == nil || session.Platform == "" || session.Account == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := copySession(session)
	m.sessions[session.Key()] = c
	return nil
}

func (m *MockStore) Retrieve(platform, account string) (*Session, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[Key(platform, account)]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return copySession(s), nil
}

func (m *MockStore) List() ([]*Session, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, copySession(s))
	}
	return out, nil
}

func (m *MockStore) Delete(platform, account string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(platform, account)
	if _, ok := m.sessions[key]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.sessions, key)
	return nil
}

func (m *MockStore) Exists(platform, account string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[Key(platform, account)]
	return ok
}

// Count returns the number of stored sessions
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func copySession(s *Session) *Session {
	c := *s
	c.Cookies = make(map[string]string, len(s.Cookies))
	for k, v := range s.Cookies {
		c.Cookies[k] = v
	}
	return &c
}
