package encryption

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ostia/ostia-node/pkg/nostr"
)

func TestConversationKeySymmetry(t *testing.T) {
	alice, err := nostr.GenerateKeys()
	require.NoError(t, err)
	bob, err := nostr.GenerateKeys()
	require.NoError(t, err)

	aliceKey := ConversationKey(alice.Secret(), bob.Public())
	bobKey := ConversationKey(bob.Secret(), alice.Public())
	assert.Equal(t, aliceKey, bobKey)
	assert.Len(t, aliceKey, 32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, err := nostr.GenerateKeys()
	require.NoError(t, err)
	bob, err := nostr.GenerateKeys()
	require.NoError(t, err)

	convKey := ConversationKey(alice.Secret(), bob.Public())

	tests := []struct {
		name      string
		plaintext string
	}{
		{"short", "hi"},
		{"unicode", "héllo wörld \U0001F4F7"},
		{"boundary 32", strings.Repeat("a", 32)},
		{"boundary 33", strings.Repeat("a", 33)},
		{"large", strings.Repeat("x", 10000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncryptNIP44(convKey, tt.plaintext)
			require.NoError(t, err)

			// Decrypt with the other side's derivation of the same key.
			out, err := DecryptNIP44(ConversationKey(bob.Secret(), alice.Public()), payload)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, out)
		})
	}
}

func TestEncryptNoncesDiffer(t *testing.T) {
	alice, err := nostr.GenerateKeys()
	require.NoError(t, err)
	bob, err := nostr.GenerateKeys()
	require.NoError(t, err)
	convKey := ConversationKey(alice.Secret(), bob.Public())

	a, err := EncryptNIP44(convKey, "same message")
	require.NoError(t, err)
	b, err := EncryptNIP44(convKey, "same message")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTampering(t *testing.T) {
	alice, err := nostr.GenerateKeys()
	require.NoError(t, err)
	bob, err := nostr.GenerateKeys()
	require.NoError(t, err)
	convKey := ConversationKey(alice.Secret(), bob.Public())

	payload, err := EncryptNIP44(convKey, "secret text")
	require.NoError(t, err)

	t.Run("flipped ciphertext byte", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(payload)
		require.NoError(t, err)
		raw[40] ^= 0x01
		_, err = DecryptNIP44(convKey, base64.StdEncoding.EncodeToString(raw))
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("wrong key", func(t *testing.T) {
		mallory, err := nostr.GenerateKeys()
		require.NoError(t, err)
		wrongKey := ConversationKey(mallory.Secret(), bob.Public())
		_, err = DecryptNIP44(wrongKey, payload)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := DecryptNIP44(convKey, base64.StdEncoding.EncodeToString([]byte{2, 1, 2, 3}))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("bad base64", func(t *testing.T) {
		_, err := DecryptNIP44(convKey, "!!!not base64!!!")
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("non-b64 marker", func(t *testing.T) {
		_, err := DecryptNIP44(convKey, "#v0payload")
		assert.ErrorIs(t, err, ErrUnsupportedNonB64)
	})
}

func TestPlaintextSizeLimits(t *testing.T) {
	alice, err := nostr.GenerateKeys()
	require.NoError(t, err)
	bob, err := nostr.GenerateKeys()
	require.NoError(t, err)
	convKey := ConversationKey(alice.Secret(), bob.Public())

	_, err = EncryptNIP44(convKey, "")
	assert.ErrorIs(t, err, ErrPlaintextSize)

	_, err = EncryptNIP44(convKey, strings.Repeat("a", 65536))
	assert.ErrorIs(t, err, ErrPlaintextSize)
}

func TestCalcPaddedLen(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{1, 32},
		{32, 32},
		{33, 64},
		{64, 64},
		{65, 96},
		{256, 256},
		{257, 320},
		{1000, 1024},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calcPaddedLen(tt.in), "calcPaddedLen(%d)", tt.in)
	}
}
