package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/odyssey-erp/webguard/internal/shared"
)

// ErrDuplicateUser indicates a username registered twice.
var ErrDuplicateUser = errors.New("auth: duplicate user")

// Repository defines lookup operations for the auth module.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
}

// MemoryRepository keeps accounts in process memory. It is filled at startup
// from the security bootstrap file.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]User)}
}

// Add registers a user.
func (r *MemoryRepository) Add(user User) error {
	name := strings.TrimSpace(user.Username)
	if name == "" {
		return fmt.Errorf("%w: username required", shared.ErrInvalidArgument)
	}
	if strings.ContainsAny(name, "<>") {
		return fmt.Errorf("%w: invalid username %q", shared.ErrInvalidArgument, name)
	}
	if user.PasswordHash == "" {
		return fmt.Errorf("%w: password hash required", shared.ErrInvalidArgument)
	}
	user.Username = name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, name)
	}
	r.users[name] = user
	return nil
}

// FindByUsername fetches a user by username.
func (r *MemoryRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[username]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &user, nil
}

var _ Repository = (*MemoryRepository)(nil)
