package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveMessage inserts a message if it is new. It reports false without error
// when the id already exists or the event is tombstoned, so callers can count
// genuinely new inserts.
func (s *Store) SaveMessage(msg *MessageRecord) (bool, error) {
	deleted, err := s.IsEventDeleted(msg.ID)
	if err != nil {
		return false, err
	}
	if deleted {
		return false, nil
	}

	if msg.MessageType == "" {
		msg.MessageType = MessageTypeText
	}
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO messages
			(id, sender, receiver, content, timestamp, status, message_type, media_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Receiver, msg.Content,
		msg.Timestamp, msg.Status, msg.MessageType, msg.MediaURL,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetMessage retrieves a message by event id.
func (s *Store) GetMessage(id string) (*MessageRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, sender, receiver, content, timestamp, status, message_type, media_url
		FROM messages WHERE id = ?`, id)

	var msg MessageRecord
	err := row.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Content,
		&msg.Timestamp, &msg.Status, &msg.MessageType, &msg.MediaURL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns messages exchanged with a peer, newest first.
func (s *Store) ListMessages(peer string, limit int) ([]*MessageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, sender, receiver, content, timestamp, status, message_type, media_url
		FROM messages
		WHERE sender = ? OR receiver = ?
		ORDER BY timestamp DESC LIMIT ?`, peer, peer, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*MessageRecord
	for rows.Next() {
		var msg MessageRecord
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Content,
			&msg.Timestamp, &msg.Status, &msg.MessageType, &msg.MediaURL); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// UpdateMessageStatus transitions a message's delivery status.
func (s *Store) UpdateMessageStatus(id string, status MessageStatus) error {
	res, err := s.db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkMessagesRead flags a batch of message ids as read, ignoring unknown ids.
func (s *Store) MarkMessagesRead(ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.Exec(`UPDATE messages SET status = ? WHERE id = ?`, MessageStatusRead, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to mark read: %w", err)
		}
	}
	return tx.Commit()
}

// MarkEventDeleted records a deletion tombstone and removes any stored copy.
// The tombstone outlives the message so late-arriving relay copies stay dead.
func (s *Store) MarkEventDeleted(eventID, deletedBy string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO deleted_events (event_id, deleted_by, deleted_at)
		VALUES (?, ?, ?)`, eventID, deletedBy, time.Now().Unix()); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record tombstone: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, eventID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to remove deleted message: %w", err)
	}
	return tx.Commit()
}

// IsEventDeleted reports whether an event id has a deletion tombstone.
func (s *Store) IsEventDeleted(eventID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM deleted_events WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check tombstone: %w", err)
	}
	return n > 0, nil
}
