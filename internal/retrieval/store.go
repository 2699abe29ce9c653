package retrieval

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Collections held by the example index.
const (
	CollectionContext  = "context"
	CollectionTeaching = "teaching"
)

// Example is one indexed text with its embedding.
type Example struct {
	ID          int64       `json:"id"`
	Collection  string      `json:"collection"`
	ContextType ContextType `json:"context_type"`
	Content     string      `json:"content"`
	Embedding   []float32   `json:"-"`
}

var exampleMigrations = []string{
	`CREATE TABLE IF NOT EXISTS examples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		context_type INTEGER NOT NULL DEFAULT 0,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_examples_collection ON examples(collection, context_type)`,
}

// Store is the SQLite-backed example index.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the index database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	for _, stmt := range exampleMigrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate index: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts examples in one transaction. Every example needs a collection
// and an embedding.
func (s *Store) Add(ctx context.Context, examples []Example) error {
	if len(examples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO examples (collection, context_type, content, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ex := range examples {
		if ex.Collection == "" || len(ex.Embedding) == 0 {
			return errors.New("example needs a collection and an embedding")
		}
		if _, err := stmt.ExecContext(ctx, ex.Collection, int(ex.ContextType), ex.Content, encodeVector(ex.Embedding)); err != nil {
			return fmt.Errorf("insert example: %w", err)
		}
	}
	return tx.Commit()
}

// List returns the examples of a collection, filtered by context type unless
// ct is AnyContext.
func (s *Store) List(ctx context.Context, collection string, ct ContextType) ([]Example, error) {
	query := `SELECT id, collection, context_type, content, embedding FROM examples WHERE collection = ?`
	args := []any{collection}
	if ct != AnyContext {
		query += ` AND context_type = ?`
		args = append(args, int(ct))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query examples: %w", err)
	}
	defer rows.Close()

	var out []Example
	for rows.Next() {
		var (
			ex   Example
			ctyp int
			blob []byte
		)
		if err := rows.Scan(&ex.ID, &ex.Collection, &ctyp, &ex.Content, &blob); err != nil {
			return nil, fmt.Errorf("scan example: %w", err)
		}
		ex.ContextType = ContextType(ctyp)
		ex.Embedding, err = decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", ex.ID, err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Count returns the number of examples in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM examples WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count examples: %w", err)
	}
	return n, nil
}

// Reset deletes every example of a collection.
func (s *Store) Reset(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM examples WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("reset %s: %w", collection, err)
	}
	return nil
}

// Vectors are stored as little-endian float32 sequences.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
