package encryption

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/nostr"
)

var (
	ErrNotGiftWrap    = errors.New("not a gift wrap event")
	ErrNotSeal        = errors.New("not a seal event")
	ErrNoRecipient    = errors.New("seal has no recipient tag")
	ErrWrongRecipient = errors.New("seal not intended for this recipient")
)

// EncryptedPayload is the result of the thin Encrypt wrapper. Nonce is empty
// on the NIP-44 path (the nonce lives inside the payload) and set only for
// legacy AES-GCM material.
type EncryptedPayload struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce,omitempty"`
	PubKey     string `json:"pubkey"`
	Timestamp  int64  `json:"timestamp"`
}

// Manager builds and opens the three-layer private-message envelope
// (Rumor -> Seal -> Gift Wrap) and owns the legacy session-key archive.
type Manager struct {
	log      *zap.Logger
	sessions *SessionArchive
}

// NewManager creates an envelope manager with a fresh session archive.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:      log,
		sessions: NewSessionArchive(log),
	}
}

// Sessions exposes the legacy session-key archive for administration.
func (m *Manager) Sessions() *SessionArchive { return m.sessions }

// SetCache attaches the persistent cache backing the session archive.
func (m *Manager) SetCache(cache Cache) { m.sessions.SetCache(cache) }

// Encrypt seals plaintext for a peer under NIP-44.
func (m *Manager) Encrypt(plaintext, theirPubkey string, keys *nostr.Keys) (*EncryptedPayload, error) {
	pubHex, pk, err := nostr.ParsePublicKey(theirPubkey)
	if err != nil {
		return nil, err
	}
	ciphertext, err := EncryptNIP44(ConversationKey(keys.Secret(), pk), plaintext)
	if err != nil {
		return nil, err
	}
	return &EncryptedPayload{
		Ciphertext: ciphertext,
		PubKey:     pubHex,
		Timestamp:  time.Now().Unix(),
	}, nil
}

// Decrypt opens a NIP-44 payload from the peer recorded in it.
func (m *Manager) Decrypt(payload *EncryptedPayload, keys *nostr.Keys) (string, error) {
	_, pk, err := nostr.ParsePublicKey(payload.PubKey)
	if err != nil {
		return "", err
	}
	return DecryptNIP44(ConversationKey(keys.Secret(), pk), payload.Ciphertext)
}

// CreatePrivateMessage builds the full envelope for a direct message:
// an unsigned Rumor carrying the plaintext, a Seal holding the encrypted
// Rumor and authored by the real sender, and a Gift Wrap signed by a
// single-use throwaway key. Only the Gift Wrap ever reaches the network.
func (m *Manager) CreatePrivateMessage(content, receiverPubkey string, keys *nostr.Keys) (*nostr.Event, error) {
	receiverHex, receiverPK, err := nostr.ParsePublicKey(receiverPubkey)
	if err != nil {
		return nil, err
	}

	rumor := nostr.NewUnsigned(keys.PublicKeyHex(), nostr.KindTextNote, nil, content)
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize rumor: %w", err)
	}

	ciphertext, err := EncryptNIP44(ConversationKey(keys.Secret(), receiverPK), string(rumorJSON))
	if err != nil {
		return nil, err
	}

	seal := nostr.NewUnsigned(keys.PublicKeyHex(), nostr.KindSeal,
		[]nostr.Tag{{"p", receiverHex}}, ciphertext)
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize seal: %w", err)
	}

	// The wrap key is generated, used for one signature and dropped.
	wrapKeys, err := nostr.GenerateKeys()
	if err != nil {
		return nil, err
	}
	wrap := &nostr.Event{
		Kind:    nostr.KindGiftWrap,
		Tags:    []nostr.Tag{{"p", receiverHex}},
		Content: string(sealJSON),
	}
	if err := wrap.Sign(wrapKeys); err != nil {
		return nil, err
	}
	return wrap, nil
}

// UnwrapPrivateMessage opens a Gift Wrap back to its Rumor. Seal contents of
// the form "ciphertext|nonce" are routed to the legacy AES-GCM path keyed by
// the session archive; everything else is treated as a NIP-44 payload.
func (m *Manager) UnwrapPrivateMessage(ev *nostr.Event, keys *nostr.Keys) (*nostr.Event, error) {
	if ev.Kind != nostr.KindGiftWrap {
		return nil, ErrNotGiftWrap
	}

	var seal nostr.Event
	if err := json.Unmarshal([]byte(ev.Content), &seal); err != nil {
		return nil, fmt.Errorf("failed to parse seal: %w", err)
	}
	if seal.Kind != nostr.KindSeal {
		return nil, ErrNotSeal
	}

	recipient, ok := seal.TagValue("p")
	if !ok {
		return nil, ErrNoRecipient
	}
	if recipient != keys.PublicKeyHex() {
		return nil, ErrWrongRecipient
	}

	sealContent := strings.TrimSpace(seal.Content)
	var rumorJSON string
	if ciphertext, nonce, isLegacy := strings.Cut(sealContent, "|"); isLegacy {
		out, err := m.sessions.decryptLegacy(seal.PubKey, ciphertext, nonce)
		if err != nil {
			return nil, err
		}
		rumorJSON = out
	} else {
		_, sealerPK, err := nostr.ParsePublicKey(seal.PubKey)
		if err != nil {
			return nil, err
		}
		rumorJSON, err = DecryptNIP44(ConversationKey(keys.Secret(), sealerPK), sealContent)
		if err != nil {
			return nil, err
		}
	}

	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nil, fmt.Errorf("failed to parse rumor: %w", err)
	}
	return &rumor, nil
}
