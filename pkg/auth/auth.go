// Package auth verifies gateway client passwords against bcrypt hashes.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserNotFound is returned when a user doesn't exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidPassword is returned when password doesn't match.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidHash is returned when a configured hash is not a bcrypt hash.
	ErrInvalidHash = errors.New("invalid password hash")
)

// UserCatalog holds the users allowed to connect. An empty catalog
// disables authentication. Usernames are case-insensitive and stored in
// lower case, matching how configuration keys are read.
type UserCatalog struct {
	mu    sync.RWMutex
	users map[string][]byte
}

// NewUserCatalog builds a catalog from username to bcrypt hash.
func NewUserCatalog(hashes map[string]string) (*UserCatalog, error) {
	uc := &UserCatalog{users: make(map[string][]byte, len(hashes))}
	for name, hash := range hashes {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("%w for user %q: %v", ErrInvalidHash, name, err)
		}
		key := normalize(name)
		if _, dup := uc.users[key]; dup {
			return nil, fmt.Errorf("user %q configured more than once", key)
		}
		uc.users[key] = []byte(hash)
	}
	return uc, nil
}

func normalize(username string) string {
	return strings.ToLower(username)
}

// HashPassword returns the bcrypt hash of password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// SetPassword adds a user or replaces their password.
func (uc *UserCatalog) SetPassword(username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.users[normalize(username)] = []byte(hash)
	return nil
}

// Enabled reports whether any users are configured.
func (uc *UserCatalog) Enabled() bool {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return len(uc.users) > 0
}

// Authenticate checks username and password.
func (uc *UserCatalog) Authenticate(username, password string) error {
	uc.mu.RLock()
	hash, ok := uc.users[normalize(username)]
	uc.mu.RUnlock()

	if !ok {
		return ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

// ListUsers returns the configured usernames, lower-cased, in sorted order.
func (uc *UserCatalog) ListUsers() []string {
	uc.mu.RLock()
	defer uc.mu.RUnlock()

	names := make([]string, 0, len(uc.users))
	for name := range uc.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
