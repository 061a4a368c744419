// Package nostr implements the wire-level event model spoken with relays:
// signed events, filters, and the client/relay message framing.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event kinds used by the messaging core.
const (
	KindMetadata        = 0
	KindTextNote        = 1
	KindEventDeletion   = 5
	KindSeal            = 13
	KindChannelCreation = 40
	KindChannelMetadata = 41
	KindChannelMessage  = 42
	KindGiftWrap        = 1059
	KindRelayList       = 10002
)

var (
	ErrBadSignature = errors.New("bad signature")
	ErrBadEventID   = errors.New("event id mismatch")
)

// Tag is a single event tag: a name followed by values, e.g. ["p", <pubkey>].
type Tag []string

// Event is the standard signed event envelope. An event with an empty Sig is
// an unsigned event (a Rumor or Seal in the gift-wrap scheme).
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig,omitempty"`
}

// NewUnsigned builds an unsigned event with its id computed.
func NewUnsigned(pubkey string, kind int, tags []Tag, content string) *Event {
	ev := &Event{
		PubKey:    pubkey,
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	ev.ID = ev.ComputeID()
	return ev
}

// Serialize produces the canonical form hashed into the event id:
// [0, pubkey, created_at, kind, tags, content].
func (e *Event) Serialize() []byte {
	if e.Tags == nil {
		e.Tags = []Tag{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode never fails for these types.
	_ = enc.Encode([]interface{}{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content})
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// ComputeID returns the hex sha256 of the canonical serialization.
func (e *Event) ComputeID() string {
	sum := sha256.Sum256(e.Serialize())
	return hex.EncodeToString(sum[:])
}

// Sign stamps the event with the signer's public key, recomputes the id and
// attaches a BIP-340 Schnorr signature.
func (e *Event) Sign(keys *Keys) error {
	e.PubKey = keys.PublicKeyHex()
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	e.ID = e.ComputeID()

	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return fmt.Errorf("failed to decode event id: %w", err)
	}
	sig, err := schnorr.Sign(keys.Secret(), idBytes)
	if err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks the id and signature of a signed event.
func (e *Event) Verify() error {
	if e.ComputeID() != e.ID {
		return ErrBadEventID
	}
	_, pk, err := ParsePublicKey(e.PubKey)
	if err != nil {
		return err
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return ErrBadEventID
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return ErrBadSignature
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return ErrBadSignature
	}
	if !sig.Verify(idBytes, pk) {
		return ErrBadSignature
	}
	return nil
}

// TagValue returns the first value of the first tag with the given name,
// e.g. TagValue("p") yields the tagged recipient pubkey.
func (e *Event) TagValue(name string) (string, bool) {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}

// TaggedTo reports whether the event carries a p-tag for the given pubkey.
func (e *Event) TaggedTo(pubkeyHex string) bool {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == "p" && t[1] == pubkeyHex {
			return true
		}
	}
	return false
}
