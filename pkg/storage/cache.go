package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// GetCache returns the cached value for key. Expired entries are treated as
// missing and swept lazily.
func (s *Store) GetCache(key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRow(`SELECT value, expires_at FROM cache WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache: %w", err)
	}
	if expiresAt > 0 && time.Now().Unix() >= expiresAt {
		_, _ = s.db.Exec(`DELETE FROM cache WHERE key = ?`, key)
		return "", false, nil
	}
	return value, true, nil
}

// SetCache stores a value under key. A ttl of zero means no expiry.
func (s *Store) SetCache(key, value string, ttl time.Duration) error {
	var expiresAt int64
	if ttl != 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	_, err := s.db.Exec(`
		INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// DeleteCache removes a cache entry. Missing keys are not an error.
func (s *Store) DeleteCache(key string) error {
	if _, err := s.db.Exec(`DELETE FROM cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}
