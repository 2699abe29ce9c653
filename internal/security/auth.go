package security

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Accounts checks login credentials. Stored values are bcrypt hashes or,
// for local test accounts, plaintext passwords.
type Accounts struct {
	users map[string]string
}

// NewAccounts copies users (username -> password or bcrypt hash).
func NewAccounts(users map[string]string) *Accounts {
	m := make(map[string]string, len(users))
	for name, pw := range users {
		m[strings.TrimSpace(name)] = pw
	}
	return &Accounts{users: m}
}

// Len returns the number of accounts.
func (a *Accounts) Len() int { return len(a.users) }

// Authenticate returns nil when password matches the stored secret.
func (a *Accounts) Authenticate(username, password string) error {
	stored, ok := a.users[strings.TrimSpace(username)]
	if !ok || password == "" {
		return ErrInvalidCredentials
	}
	if isBcryptHash(stored) {
		if bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) != nil {
			return ErrInvalidCredentials
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for the accounts config.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// Authorizer checks if a chat is allowed to talk to the bot.
type Authorizer struct {
	allowedIDs map[int64]bool
}

// NewAuthorizer creates an authorizer with the given allowed chat IDs.
// If the list is empty, all chats are allowed.
func NewAuthorizer(allowedIDs []int64) *Authorizer {
	m := make(map[int64]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		m[id] = true
	}
	return &Authorizer{allowedIDs: m}
}

// IsAllowed returns true if the chat is authorized.
func (a *Authorizer) IsAllowed(chatID int64) bool {
	if len(a.allowedIDs) == 0 {
		return true
	}
	return a.allowedIDs[chatID]
}
