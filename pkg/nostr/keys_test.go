package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeys(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)

	assert.Len(t, keys.PublicKeyHex(), 64)
	assert.Len(t, keys.SecretHex(), 64)
	assert.Contains(t, keys.Npub(), "npub1")
	assert.Contains(t, keys.Nsec(), "nsec1")
}

func TestParseKeysRoundTrip(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)

	t.Run("hex", func(t *testing.T) {
		parsed, err := ParseKeys(keys.SecretHex())
		require.NoError(t, err)
		assert.Equal(t, keys.PublicKeyHex(), parsed.PublicKeyHex())
	})

	t.Run("nsec", func(t *testing.T) {
		parsed, err := ParseKeys(keys.Nsec())
		require.NoError(t, err)
		assert.Equal(t, keys.PublicKeyHex(), parsed.PublicKeyHex())
	})
}

func TestParseKeysInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short hex", "abcd"},
		{"not hex", "zz" + string(make([]byte, 62))},
		{"npub instead of nsec", "npub1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKeys(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestParsePublicKey(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)

	t.Run("hex", func(t *testing.T) {
		pubHex, pk, err := ParsePublicKey(keys.PublicKeyHex())
		require.NoError(t, err)
		assert.Equal(t, keys.PublicKeyHex(), pubHex)
		assert.NotNil(t, pk)
	})

	t.Run("npub", func(t *testing.T) {
		pubHex, _, err := ParsePublicKey(keys.Npub())
		require.NoError(t, err)
		assert.Equal(t, keys.PublicKeyHex(), pubHex)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := ParsePublicKey("not-a-key")
		assert.Error(t, err)
	})
}
