package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ostia/ostia-node/pkg/nostr"
)

func TestPrivateMessageRoundTrip(t *testing.T) {
	alice, err := nostr.GenerateKeys()
	require.NoError(t, err)
	bob, err := nostr.GenerateKeys()
	require.NoError(t, err)

	mgr := NewManager(nil)

	wrap, err := mgr.CreatePrivateMessage("hello bob", bob.PublicKeyHex(), alice)
	require.NoError(t, err)

	// Wire-visible properties: wrapped kind, throwaway author, recipient tag.
	assert.Equal(t, nostr.KindGiftWrap, wrap.Kind)
	assert.NotEqual(t, alice.PublicKeyHex(), wrap.PubKey)
	assert.True(t, wrap.TaggedTo(bob.PublicKeyHex()))
	assert.NoError(t, wrap.Verify())

	rumor, err := mgr.UnwrapPrivateMessage(wrap, bob)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", rumor.Content)
	assert.Equal(t, alice.PublicKeyHex(), rumor.PubKey)
	assert.Empty(t, rumor.Sig)
}

func TestUnwrapRejectsWrongRecipient(t *testing.T) {
	alice, err := nostr.GenerateKeys()
	require.NoError(t, err)
	bob, err := nostr.GenerateKeys()
	require.NoError(t, err)
	eve, err := nostr.GenerateKeys()
	require.NoError(t, err)

	mgr := NewManager(nil)
	wrap, err := mgr.CreatePrivateMessage("for bob only", bob.PublicKeyHex(), alice)
	require.NoError(t, err)

	_, err = mgr.UnwrapPrivateMessage(wrap, eve)
	assert.ErrorIs(t, err, ErrWrongRecipient)
}

func TestUnwrapRejectsWrongKinds(t *testing.T) {
	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)
	mgr := NewManager(nil)

	t.Run("not a gift wrap", func(t *testing.T) {
		ev := &nostr.Event{Kind: nostr.KindTextNote}
		_, err := mgr.UnwrapPrivateMessage(ev, keys)
		assert.ErrorIs(t, err, ErrNotGiftWrap)
	})

	t.Run("seal with wrong kind", func(t *testing.T) {
		seal := nostr.NewUnsigned(keys.PublicKeyHex(), nostr.KindTextNote,
			[]nostr.Tag{{"p", keys.PublicKeyHex()}}, "whatever")
		raw, err := json.Marshal(seal)
		require.NoError(t, err)
		ev := &nostr.Event{Kind: nostr.KindGiftWrap, Content: string(raw)}
		_, err = mgr.UnwrapPrivateMessage(ev, keys)
		assert.ErrorIs(t, err, ErrNotSeal)
	})

	t.Run("seal without recipient", func(t *testing.T) {
		seal := nostr.NewUnsigned(keys.PublicKeyHex(), nostr.KindSeal, nil, "whatever")
		raw, err := json.Marshal(seal)
		require.NoError(t, err)
		ev := &nostr.Event{Kind: nostr.KindGiftWrap, Content: string(raw)}
		_, err = mgr.UnwrapPrivateMessage(ev, keys)
		assert.ErrorIs(t, err, ErrNoRecipient)
	})
}

// TestUnwrapLegacyFormat builds a seal in the historical
// "ciphertext|nonce" AES-GCM form and checks it is routed to the
// session-key path.
func TestUnwrapLegacyFormat(t *testing.T) {
	alice, err := nostr.GenerateKeys()
	require.NoError(t, err)
	bob, err := nostr.GenerateKeys()
	require.NoError(t, err)

	mgr := NewManager(nil)

	// Share the session key both ways, as a backup import would.
	keyHex, err := mgr.Sessions().Export(alice.PublicKeyHex())
	require.NoError(t, err)
	key, err := hex.DecodeString(keyHex)
	require.NoError(t, err)

	rumor := nostr.NewUnsigned(alice.PublicKeyHex(), nostr.KindTextNote, nil, "legacy hello")
	rumorJSON, err := json.Marshal(rumor)
	require.NoError(t, err)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	nonce := make([]byte, gcm.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)
	ct := gcm.Seal(nil, nonce, rumorJSON, nil)

	sealContent := hex.EncodeToString(ct) + "|" + hex.EncodeToString(nonce)
	seal := nostr.NewUnsigned(alice.PublicKeyHex(), nostr.KindSeal,
		[]nostr.Tag{{"p", bob.PublicKeyHex()}}, sealContent)
	sealJSON, err := json.Marshal(seal)
	require.NoError(t, err)

	wrapKeys, err := nostr.GenerateKeys()
	require.NoError(t, err)
	wrap := &nostr.Event{
		Kind:    nostr.KindGiftWrap,
		Tags:    []nostr.Tag{{"p", bob.PublicKeyHex()}},
		Content: string(sealJSON),
	}
	require.NoError(t, wrap.Sign(wrapKeys))

	out, err := mgr.UnwrapPrivateMessage(wrap, bob)
	require.NoError(t, err)
	assert.Equal(t, "legacy hello", out.Content)
}

func TestEncryptDecryptWrappers(t *testing.T) {
	alice, err := nostr.GenerateKeys()
	require.NoError(t, err)
	bob, err := nostr.GenerateKeys()
	require.NoError(t, err)

	mgr := NewManager(nil)
	payload, err := mgr.Encrypt("wrapped", bob.PublicKeyHex(), alice)
	require.NoError(t, err)
	assert.Equal(t, bob.PublicKeyHex(), payload.PubKey)

	// Bob decrypts using the sender's pubkey recorded in the payload.
	payload.PubKey = alice.PublicKeyHex()
	out, err := mgr.Decrypt(payload, bob)
	require.NoError(t, err)
	assert.Equal(t, "wrapped", out)
}
