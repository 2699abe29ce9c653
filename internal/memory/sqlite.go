package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Options configures a SQLiteStore.
type Options struct {
	Retry  RetryPolicy
	Logger *zap.Logger
	// Now overrides the clock used for message and summary timestamps.
	Now func() time.Time
}

// SQLiteStore implements MessageStore and SummaryStore on one SQLite file.
// Every operation checks out the pooled connection and returns it before
// the call ends.
type SQLiteStore struct {
	db    *sql.DB
	retry RetryPolicy
	log   *zap.Logger
	now   func() time.Time
}

var (
	_ MessageStore = (*SQLiteStore)(nil)
	_ SummaryStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// SQLite's own busy wait is capped at one retry delay so the retry
	// policy decides how long a store locked by another process is
	// tolerated. Writers inside this process queue on the single pooled
	// connection instead.
	retry := opts.Retry.withDefaults()
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", dbPath, retry.Delay.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:    db,
		retry: retry,
		log:   opts.Logger,
		now:   opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("memory")
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withConn runs fn on a dedicated connection under the retry policy.
func (s *SQLiteStore) withConn(ctx context.Context, op string, fn func(conn *sql.Conn) error) error {
	return s.retry.do(ctx, op, s.log, func() error {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()
		return fn(conn)
	})
}

// Append stores one message and returns its id.
func (s *SQLiteStore) Append(ctx context.Context, username string, role Role, content string) (int64, error) {
	if !role.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	var id int64
	err := s.withConn(ctx, "append", func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx,
			`INSERT INTO messages (username, role, content, timestamp) VALUES (?, ?, ?, ?)`,
			username, string(role), content, s.now().UnixMilli(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return id, nil
}

// ReadAll returns every message of the user in ascending id order.
func (s *SQLiteStore) ReadAll(ctx context.Context, username string) ([]Message, error) {
	msgs, err := s.queryMessages(ctx, "read_all",
		`SELECT id, username, role, content, timestamp
		FROM messages WHERE username = ? ORDER BY id ASC`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return msgs, nil
}

// ReadRecent returns the n newest messages, oldest first.
func (s *SQLiteStore) ReadRecent(ctx context.Context, username string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	msgs, err := s.queryMessages(ctx, "read_recent",
		`SELECT id, username, role, content, timestamp FROM (
			SELECT id, username, role, content, timestamp
			FROM messages WHERE username = ? ORDER BY id DESC LIMIT ?
		) sub ORDER BY id ASC`,
		username, n,
	)
	if err != nil {
		return nil, fmt.Errorf("read recent messages: %w", err)
	}
	return msgs, nil
}

// ReadAfter returns the messages with id greater than cursor, oldest first.
func (s *SQLiteStore) ReadAfter(ctx context.Context, username string, cursor int64) ([]Message, error) {
	msgs, err := s.queryMessages(ctx, "read_after",
		`SELECT id, username, role, content, timestamp
		FROM messages WHERE username = ? AND id > ? ORDER BY id ASC`,
		username, cursor,
	)
	if err != nil {
		return nil, fmt.Errorf("read pending messages: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, op, query string, args ...any) ([]Message, error) {
	var messages []Message
	err := s.withConn(ctx, op, func(conn *sql.Conn) error {
		// Reset so a retried attempt does not keep rows from a failed one.
		messages = nil

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var msg Message
			var role string
			var ts int64
			if err := rows.Scan(&msg.ID, &msg.Username, &role, &msg.Content, &ts); err != nil {
				return err
			}
			msg.Role = Role(role)
			msg.CreatedAt = time.UnixMilli(ts)
			messages = append(messages, msg)
		}
		return rows.Err()
	})
	return messages, err
}

// GetSummary returns the user's summary, or nil if none was written yet.
func (s *SQLiteStore) GetSummary(ctx context.Context, username string) (*Summary, error) {
	var summary *Summary
	err := s.withConn(ctx, "get_summary", func(conn *sql.Conn) error {
		var text string
		var updated int64
		err := conn.QueryRowContext(ctx,
			`SELECT summary_text, updated_at FROM summary WHERE username = ?`,
			username,
		).Scan(&text, &updated)
		if err == sql.ErrNoRows {
			summary = nil
			return nil
		}
		if err != nil {
			return err
		}
		summary = &Summary{Username: username, Text: text, UpdatedAt: time.UnixMilli(updated)}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return summary, nil
}

// SetSummary replaces the user's summary.
func (s *SQLiteStore) SetSummary(ctx context.Context, username, text string) error {
	err := s.withConn(ctx, "set_summary", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, upsertSummarySQL, username, text, s.now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

// GetCursor returns the id of the newest summarized message, 0 if none.
func (s *SQLiteStore) GetCursor(ctx context.Context, username string) (int64, error) {
	var cursor int64
	err := s.withConn(ctx, "get_cursor", func(conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx,
			`SELECT last_summarized_id FROM summary_pointer WHERE username = ?`,
			username,
		).Scan(&cursor)
		if err == sql.ErrNoRows {
			cursor = 0
			return nil
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return cursor, nil
}

// SetCursor moves the cursor forward. A value lower than the stored one
// leaves the cursor unchanged.
func (s *SQLiteStore) SetCursor(ctx context.Context, username string, id int64) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCursor, id)
	}
	err := s.withConn(ctx, "set_cursor", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, upsertCursorSQL, username, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// CommitSummary writes the summary and the cursor in one transaction, so
// a reader never sees a summary that disagrees with the cursor.
func (s *SQLiteStore) CommitSummary(ctx context.Context, username, text string, cursor int64) error {
	if cursor < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCursor, cursor)
	}
	err := s.withConn(ctx, "commit_summary", func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, upsertSummarySQL, username, text, s.now().UnixMilli()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertCursorSQL, username, cursor); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("commit summary: %w", err)
	}
	return nil
}

const (
	upsertSummarySQL = `INSERT INTO summary (username, summary_text, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			summary_text = excluded.summary_text,
			updated_at = excluded.updated_at`

	upsertCursorSQL = `INSERT INTO summary_pointer (username, last_summarized_id) VALUES (?, ?)
		ON CONFLICT(username) DO UPDATE SET
			last_summarized_id = MAX(last_summarized_id, excluded.last_summarized_id)`
)
