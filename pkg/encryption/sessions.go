package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	sessionKeySize     = 32
	sessionTTL         = 30 * 24 * time.Hour
	sessionCachePrefix = "nip44_session_"
)

var ErrBadSessionKey = errors.New("session key must be 32 bytes of hex")

// Cache is the slice of the persistent store the archive needs: a string
// key/value cache with optional expiry.
type Cache interface {
	GetCache(key string) (string, bool, error)
	SetCache(key, value string, ttl time.Duration) error
	DeleteCache(key string) error
}

// SessionArchive holds per-peer 32-byte symmetric keys. It serves the legacy
// AES-GCM decrypt path and manual backup/restore of a conversation key.
// Keys are cached in memory and persisted with a 30-day expiry.
type SessionArchive struct {
	log *zap.Logger

	mu    sync.RWMutex
	keys  map[string][sessionKeySize]byte
	cache Cache // nil until a store is attached
}

// NewSessionArchive creates an archive without persistence; attach a cache
// with SetCache to enable it.
func NewSessionArchive(log *zap.Logger) *SessionArchive {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionArchive{
		log:  log,
		keys: make(map[string][sessionKeySize]byte),
	}
}

// SetCache attaches the persistent cache backing the archive.
func (a *SessionArchive) SetCache(cache Cache) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = cache
}

// Key returns the session key for a peer, creating and persisting a fresh
// random key when none exists.
func (a *SessionArchive) Key(peer string) ([sessionKeySize]byte, error) {
	a.mu.RLock()
	if key, ok := a.keys[peer]; ok {
		a.mu.RUnlock()
		return key, nil
	}
	cache := a.cache
	a.mu.RUnlock()

	// Try the persisted copy before minting a new key.
	if cache != nil {
		if keyHex, ok, err := cache.GetCache(sessionCachePrefix + peer); err == nil && ok {
			if raw, err := hex.DecodeString(keyHex); err == nil && len(raw) == sessionKeySize {
				var key [sessionKeySize]byte
				copy(key[:], raw)
				a.mu.Lock()
				a.keys[peer] = key
				a.mu.Unlock()
				return key, nil
			}
		}
	}

	var key [sessionKeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("failed to generate session key: %w", err)
	}

	a.mu.Lock()
	a.keys[peer] = key
	a.mu.Unlock()

	if cache != nil {
		if err := cache.SetCache(sessionCachePrefix+peer, hex.EncodeToString(key[:]), sessionTTL); err != nil {
			a.log.Warn("failed to persist session key", zap.String("peer", peer), zap.Error(err))
		}
	}
	return key, nil
}

// List returns the peers with an in-memory session key, sorted for stable output.
func (a *SessionArchive) List() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	peers := make([]string, 0, len(a.keys))
	for peer := range a.keys {
		peers = append(peers, peer)
	}
	sort.Strings(peers)
	return peers
}

// Export returns the hex form of a peer's session key for backup.
func (a *SessionArchive) Export(peer string) (string, error) {
	key, err := a.Key(peer)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key[:]), nil
}

// Import restores a peer's session key from its hex backup form.
func (a *SessionArchive) Import(peer, keyHex string) error {
	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != sessionKeySize {
		return ErrBadSessionKey
	}

	var key [sessionKeySize]byte
	copy(key[:], raw)

	a.mu.Lock()
	a.keys[peer] = key
	cache := a.cache
	a.mu.Unlock()

	if cache != nil {
		if err := cache.SetCache(sessionCachePrefix+peer, keyHex, sessionTTL); err != nil {
			return fmt.Errorf("failed to persist session key: %w", err)
		}
	}
	return nil
}

// Delete purges a peer's session key from memory and the persisted cache.
func (a *SessionArchive) Delete(peer string) error {
	a.mu.Lock()
	delete(a.keys, peer)
	cache := a.cache
	a.mu.Unlock()

	if cache != nil {
		if err := cache.DeleteCache(sessionCachePrefix + peer); err != nil {
			return fmt.Errorf("failed to delete persisted session key: %w", err)
		}
	}
	return nil
}

// decryptLegacy opens the historical AES-256-GCM format keyed by the
// peer's archived session key. Ciphertext and nonce arrive hex-encoded.
func (a *SessionArchive) decryptLegacy(peer, ciphertextHex, nonceHex string) (string, error) {
	key, err := a.Key(peer)
	if err != nil {
		return "", err
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad nonce hex", ErrInvalidPayload)
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext hex", ErrInvalidPayload)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to init gcm: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: bad nonce size", ErrInvalidPayload)
	}

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}
