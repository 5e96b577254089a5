// Package archive keeps a local SQLite log of every inbound and
// outbound message. It is best-effort from the pipeline's perspective
// and exists so the dashboard can show recent history even when the
// knowledge-graph service is down.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction marks which way a message traveled.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Entry is one archived message.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Body      string    `json:"body"`
	MessageID string    `json:"message_id,omitempty"` // Provider ID when known
	CreatedAt time.Time `json:"created_at"`
}

// Store manages message persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a message archive using the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB creates a message archive using an existing database
// connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			phone TEXT NOT NULL,
			name TEXT,
			direction TEXT NOT NULL,
			body TEXT NOT NULL,
			message_id TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_phone ON messages(phone, created_at DESC);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one message to the archive. The entry's ID and
// CreatedAt are assigned here when unset.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate id: %w", err)
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, phone, name, direction, body, message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID.String(), e.Phone, e.Name, string(e.Direction), e.Body, e.MessageID,
		e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// History returns the most recent messages for a phone number, newest
// first, at most limit entries.
func (s *Store) History(ctx context.Context, phone string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phone, name, direction, body, message_id, created_at
		FROM messages
		WHERE phone = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var id, direction, createdAt string
		if err := rows.Scan(&id, &e.Phone, &e.Name, &direction, &e.Body, &e.MessageID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		e.ID, _ = uuid.Parse(id)
		e.Direction = Direction(direction)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Purge deletes all archived messages for a phone number, returning
// how many were removed.
func (s *Store) Purge(ctx context.Context, phone string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE phone = ?`, phone)
	if err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	return res.RowsAffected()
}
