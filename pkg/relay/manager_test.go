package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAddRemove(t *testing.T) {
	m := NewManager(nil)

	require.NoError(t, m.AddRelay("wss://relay.one"))
	require.NoError(t, m.AddRelay("wss://relay.one")) // duplicate is a no-op
	require.NoError(t, m.AddRelay("ws://relay.two"))
	assert.Equal(t, []string{"wss://relay.one", "ws://relay.two"}, m.CustomRelays())

	m.RemoveRelay("wss://relay.one")
	assert.Equal(t, []string{"ws://relay.two"}, m.CustomRelays())
}

func TestManagerRejectsBadURLs(t *testing.T) {
	m := NewManager(nil)

	tests := []string{"", "http://relay", "relay.example.com", "ftp://x"}
	for _, url := range tests {
		assert.ErrorIs(t, m.AddRelay(url), ErrInvalidURL, "url %q", url)
	}
}

func TestManagerModes(t *testing.T) {
	defaults := []string{"wss://default.one", "wss://default.two"}
	m := NewManager(defaults)

	require.NoError(t, m.AddRelay("wss://custom"))
	require.NoError(t, m.AddRelay("wss://default.one")) // overlaps a default

	t.Run("exclusive uses only custom", func(t *testing.T) {
		require.NoError(t, m.SetMode(ModeExclusive))
		assert.ElementsMatch(t, []string{"wss://custom", "wss://default.one"}, m.ActiveRelays())
	})

	t.Run("hybrid unions without duplicates", func(t *testing.T) {
		require.NoError(t, m.SetMode(ModeHybrid))
		assert.ElementsMatch(t,
			[]string{"wss://default.one", "wss://default.two", "wss://custom"},
			m.ActiveRelays())
	})

	t.Run("unknown mode rejected", func(t *testing.T) {
		assert.ErrorIs(t, m.SetMode(Mode("bogus")), ErrInvalidMode)
	})
}

func TestManagerStatuses(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.AddRelay("wss://relay"))

	_, ok := m.Status("wss://relay")
	assert.False(t, ok, "no status before any update")

	m.UpdateStatus("wss://relay", Status{State: StateConnected})
	st, ok := m.Status("wss://relay")
	require.True(t, ok)
	assert.Equal(t, StateConnected, st.State)

	m.RemoveRelay("wss://relay")
	_, ok = m.Status("wss://relay")
	assert.False(t, ok, "status cleared with the relay")
}
