package encryption

import (
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache is a map-backed Cache for tests.
type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]string)}
}

func (c *memCache) GetCache(key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) SetCache(key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) DeleteCache(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func TestSessionKeyGetOrCreate(t *testing.T) {
	archive := NewSessionArchive(nil)

	k1, err := archive.Key("peer-a")
	require.NoError(t, err)
	k2, err := archive.Key("peer-a")
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "repeated lookups return the same key")

	k3, err := archive.Key("peer-b")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3, "different peers get different keys")
}

func TestSessionExportImport(t *testing.T) {
	a := NewSessionArchive(nil)
	b := NewSessionArchive(nil)

	keyHex, err := a.Export("peer")
	require.NoError(t, err)
	assert.Len(t, keyHex, 64)

	require.NoError(t, b.Import("peer", keyHex))
	imported, err := b.Export("peer")
	require.NoError(t, err)
	assert.Equal(t, keyHex, imported)
}

func TestSessionImportRejectsBadKeys(t *testing.T) {
	archive := NewSessionArchive(nil)

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"not hex", strings.Repeat("z", 64)},
		{"too long", strings.Repeat("ab", 40)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, archive.Import("peer", tt.key), ErrBadSessionKey)
		})
	}
}

func TestSessionListAndDelete(t *testing.T) {
	archive := NewSessionArchive(nil)
	_, err := archive.Key("bbb")
	require.NoError(t, err)
	_, err = archive.Key("aaa")
	require.NoError(t, err)

	assert.Equal(t, []string{"aaa", "bbb"}, archive.List())

	require.NoError(t, archive.Delete("aaa"))
	assert.Equal(t, []string{"bbb"}, archive.List())
}

func TestSessionPersistence(t *testing.T) {
	cache := newMemCache()

	first := NewSessionArchive(nil)
	first.SetCache(cache)
	k1, err := first.Key("peer")
	require.NoError(t, err)

	// A fresh archive over the same cache recovers the key.
	second := NewSessionArchive(nil)
	second.SetCache(cache)
	k2, err := second.Key("peer")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	// The persisted value is the hex form under the session prefix.
	stored, ok, err := cache.GetCache("nip44_session_peer")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hex.EncodeToString(k1[:]), stored)
}
