package memory

import (
	"context"
	"errors"
	"time"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the message log accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

var (
	// ErrStoreUnavailable is returned when the database stayed busy or
	// locked for every retry attempt.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidRole is returned by Append for roles other than user/assistant.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrInvalidCursor is returned for negative cursor values.
	ErrInvalidCursor = errors.New("invalid summary cursor")
)

// Message is one immutable chat turn. IDs are assigned by the store and
// strictly increase in insertion order.
type Message struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is the current consolidated summary for one user.
type Summary struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageStore is the append-only per-user message log.
type MessageStore interface {
	Append(ctx context.Context, username string, role Role, content string) (int64, error)
	ReadAll(ctx context.Context, username string) ([]Message, error)
	ReadRecent(ctx context.Context, username string, n int) ([]Message, error)
	ReadAfter(ctx context.Context, username string, cursor int64) ([]Message, error)
}

// SummaryStore holds at most one summary and one progress cursor per user.
// The cursor is the id of the newest message folded into the summary.
type SummaryStore interface {
	GetSummary(ctx context.Context, username string) (*Summary, error)
	SetSummary(ctx context.Context, username, text string) error
	GetCursor(ctx context.Context, username string) (int64, error)
	SetCursor(ctx context.Context, username string, id int64) error
	// CommitSummary replaces the summary and advances the cursor atomically.
	CommitSummary(ctx context.Context, username, text string, cursor int64) error
}
