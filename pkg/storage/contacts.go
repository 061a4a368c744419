package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertContactProfile merges profile metadata for a peer. Only newer
// metadata wins: an update older than the stored updated_at is dropped.
func (s *Store) UpsertContactProfile(c *Contact) error {
	if c.UpdatedAt == 0 {
		c.UpdatedAt = time.Now().Unix()
	}
	_, err := s.db.Exec(`
		INSERT INTO contacts (pubkey, name, about, picture, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			name = excluded.name,
			about = excluded.about,
			picture = excluded.picture,
			last_seen = MAX(contacts.last_seen, excluded.last_seen),
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= contacts.updated_at`,
		c.PubKey, c.Name, c.About, c.Picture, c.LastSeen, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

// TouchContact records peer activity, creating a bare contact row if needed.
func (s *Store) TouchContact(pubkey string, seenAt int64) error {
	_, err := s.db.Exec(`
		INSERT INTO contacts (pubkey, last_seen) VALUES (?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			last_seen = MAX(contacts.last_seen, excluded.last_seen)`,
		pubkey, seenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to touch contact: %w", err)
	}
	return nil
}

// GetContact retrieves a contact by pubkey.
func (s *Store) GetContact(pubkey string) (*Contact, error) {
	row := s.db.QueryRow(`
		SELECT pubkey, name, about, picture, last_seen, updated_at
		FROM contacts WHERE pubkey = ?`, pubkey)

	var c Contact
	err := row.Scan(&c.PubKey, &c.Name, &c.About, &c.Picture, &c.LastSeen, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &c, nil
}

// ListContacts returns all contacts ordered by most recent activity.
func (s *Store) ListContacts() ([]*Contact, error) {
	rows, err := s.db.Query(`
		SELECT pubkey, name, about, picture, last_seen, updated_at
		FROM contacts ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.PubKey, &c.Name, &c.About, &c.Picture, &c.LastSeen, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
