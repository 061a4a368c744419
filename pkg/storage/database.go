// Package storage persists the protocol engine's local state in SQLite:
// decrypted messages, deletion tombstones, contact profiles and a TTL
// key/value cache used for sync checkpoints, relay configuration and
// session-key backups.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("not found")

// MessageStatus represents message delivery status
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// MessageRecord is one decrypted direct message as stored locally.
// ID is the gift-wrap event id, which makes inserts naturally idempotent.
type MessageRecord struct {
	ID          string        `json:"id"`
	Sender      string        `json:"sender"`
	Receiver    string        `json:"receiver"`
	Content     string        `json:"content"`
	Timestamp   int64         `json:"timestamp"`
	Status      MessageStatus `json:"status"`
	MessageType MessageType   `json:"message_type"`
	MediaURL    string        `json:"media_url,omitempty"`
}

// Contact is a peer we exchange messages with, enriched by profile metadata
// picked up from the network.
type Contact struct {
	PubKey    string `json:"pubkey"`
	Name      string `json:"name"`
	About     string `json:"about"`
	Picture   string `json:"picture"`
	LastSeen  int64  `json:"last_seen"`
	UpdatedAt int64  `json:"updated_at"`
}

// Store manages the local SQLite database.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if needed) the database at path and runs the schema.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency between the listener and sync paths.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		receiver TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		status TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		media_url TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS deleted_events (
		event_id TEXT PRIMARY KEY,
		deleted_by TEXT NOT NULL,
		deleted_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS contacts (
		pubkey TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		about TEXT NOT NULL DEFAULT '',
		picture TEXT NOT NULL DEFAULT '',
		last_seen INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_contacts_last_seen ON contacts(last_seen DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
