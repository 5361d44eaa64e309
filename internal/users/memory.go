package users

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests. It enforces
// the same email and username uniqueness as the database backends.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func (m *MemoryStore) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(u); err != nil {
		return err
	}
	m.users[u.ID] = cloneUser(u)
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (*User, error) {
	return m.find(func(u *User) bool { return u.Email == NormalizeEmail(email) })
}

func (m *MemoryStore) GetByUsername(_ context.Context, username string) (*User, error) {
	return m.find(func(u *User) bool { return u.Username == username })
}

func (m *MemoryStore) GetByLogin(_ context.Context, identifier string) (*User, error) {
	if IsEmailIdentifier(identifier) {
		email := NormalizeEmail(identifier)
		return m.find(func(u *User) bool { return u.Email == email })
	}
	return m.find(func(u *User) bool { return u.Username == identifier })
}

func (m *MemoryStore) FindConflicts(_ context.Context, email, username string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = NormalizeEmail(email)
	var out []*User
	for _, u := range m.users {
		if u.Email == email || u.Username == username {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (m *MemoryStore) GetByResetToken(_ context.Context, token string, now time.Time) (*User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return m.find(func(u *User) bool {
		return u.ResetPasswordToken == token &&
			u.ResetPasswordExpires != nil &&
			u.ResetPasswordExpires.After(now)
	})
}

func (m *MemoryStore) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	if err := m.checkUnique(u); err != nil {
		return err
	}
	m.users[u.ID] = cloneUser(u)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored users.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

func (m *MemoryStore) find(match func(*User) bool) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

// checkUnique must be called with mu held.
func (m *MemoryStore) checkUnique(u *User) error {
	for id, other := range m.users {
		if id == u.ID {
			continue
		}
		if strings.EqualFold(other.Email, u.Email) {
			return ErrDuplicateEmail
		}
		if other.Username == u.Username {
			return ErrDuplicateUsername
		}
	}
	return nil
}

func cloneUser(u *User) *User {
	c := *u
	if u.VerificationCodeExpires != nil {
		t := *u.VerificationCodeExpires
		c.VerificationCodeExpires = &t
	}
	if u.ResetPasswordExpires != nil {
		t := *u.ResetPasswordExpires
		c.ResetPasswordExpires = &t
	}
	return &c
}
