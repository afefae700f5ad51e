// Package storage journals chat traffic in a local SQLite database: every
// message sent or received and the delivery outcome of the ones we sent.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("journal closed")
)

// MessageStatus represents message delivery status
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusReceived  MessageStatus = "received"
	MessageStatusFailed    MessageStatus = "failed"
)

// Valid reports whether s is a known status
func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusSending, MessageStatusSent, MessageStatusDelivered, MessageStatusReceived, MessageStatusFailed:
		return true
	}
	return false
}

// Journal is the message history database
type Journal struct {
	db *sql.DB
}

// StoredMessage represents a message in the journal
type StoredMessage struct {
	ID         int64         `json:"id"`
	MessageID  string        `json:"message_id"` // Hex wire ID, reused over time
	Peer       string        `json:"peer"`
	UserID     uint32        `json:"user_id"` // Author
	Content    []byte        `json:"content"`
	Timestamp  int64         `json:"timestamp"` // Author's send time, Unix seconds
	Status     MessageStatus `json:"status"`
	IsOutgoing bool          `json:"is_outgoing"`
	UpdatedAt  int64         `json:"updated_at"`
}

// NewJournal opens (creating if needed) the journal at dbPath. Use
// ":memory:" for a throwaway journal.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases coherent and serialises writers
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	j := &Journal{db: db}

	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

// initSchema creates database tables
func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL,
		peer TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		content BLOB NOT NULL,
		timestamp INTEGER NOT NULL,
		status TEXT NOT NULL,
		is_outgoing INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Wire IDs are only unique while in flight
	CREATE INDEX IF NOT EXISTS idx_messages_wire ON messages(message_id, peer, is_outgoing);
	CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.db.Close()
}
