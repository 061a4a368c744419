package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ostia/ostia-node/pkg/nostr"
	"github.com/ostia/ostia-node/pkg/relay"
)

func TestIsPublicRelayURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"wss://relay.example.com", true},
		{"ws://localhost:7777", true},
		{"ws://127.0.0.1:7777", true},
		{"ws://10.0.2.2:7777", true}, // emulator host loopback
		{"ws://10.0.0.5:7777", false},
		{"ws://10.255.1.1:7777", false},
		{"ws://172.16.0.1:7777", false},
		{"ws://172.31.9.9:7777", false},
		{"ws://169.254.1.1:7777", true},
		{"ws://192.168.1.10:7777", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPublicRelayURL(tt.url))
		})
	}
}

func TestParseRelayTags(t *testing.T) {
	ev := &nostr.Event{Tags: []nostr.Tag{
		{"r", "wss://both.example"},
		{"r", "wss://reader.example", "read"},
		{"r", "wss://writer.example", "write"},
		{"r", "ws://10.1.2.3:7777"}, // blocked private range
		{"e", "not-a-relay-tag"},
		{"r"}, // malformed
	}}

	entries := parseRelayTags(ev)
	require.Len(t, entries, 3)

	byURL := make(map[string]RelayListEntry)
	for _, e := range entries {
		byURL[e.URL] = e
	}

	assert.True(t, byURL["wss://both.example"].Read)
	assert.True(t, byURL["wss://both.example"].Write)
	assert.True(t, byURL["wss://reader.example"].Read)
	assert.False(t, byURL["wss://reader.example"].Write)
	assert.False(t, byURL["wss://writer.example"].Read)
	assert.True(t, byURL["wss://writer.example"].Write)
}

func publishRelayList(t *testing.T, pool *relay.MemoryPool, keys *nostr.Keys, tags []nostr.Tag) {
	t.Helper()
	ev := &nostr.Event{Kind: nostr.KindRelayList, Tags: tags}
	require.NoError(t, ev.Sign(keys))
	require.NoError(t, pool.Publish(context.Background(), ev))
}

func TestQueryUserRelays(t *testing.T) {
	ctx := context.Background()
	pool := relay.NewMemoryPool()
	require.NoError(t, pool.AddRelay("ws://mem"))
	pool.Connect(ctx)

	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)
	publishRelayList(t, pool, keys, []nostr.Tag{
		{"r", "wss://relay.example"},
		{"r", "wss://write-only.example", "write"},
	})

	m := NewManager(pool, nil)
	entries, err := m.QueryUserRelays(ctx, keys.PublicKeyHex(), time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestQueryUserRelaysNoList(t *testing.T) {
	ctx := context.Background()
	pool := relay.NewMemoryPool()
	require.NoError(t, pool.AddRelay("ws://mem"))
	pool.Connect(ctx)

	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)

	m := NewManager(pool, nil)
	entries, err := m.QueryUserRelays(ctx, keys.PublicKeyHex(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestQueryMultipleUsersRelaysMerges(t *testing.T) {
	ctx := context.Background()
	pool := relay.NewMemoryPool()
	require.NoError(t, pool.AddRelay("ws://mem"))
	pool.Connect(ctx)

	alice, err := nostr.GenerateKeys()
	require.NoError(t, err)
	bob, err := nostr.GenerateKeys()
	require.NoError(t, err)

	// Same relay with complementary capabilities; the merge ORs them.
	publishRelayList(t, pool, alice, []nostr.Tag{{"r", "wss://shared.example", "read"}})
	publishRelayList(t, pool, bob, []nostr.Tag{{"r", "wss://shared.example", "write"}})

	m := NewManager(pool, nil)
	entries, err := m.QueryMultipleUsersRelays(ctx,
		[]string{alice.PublicKeyHex(), bob.PublicKeyHex()}, time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Read)
	assert.True(t, entries[0].Write)
}

func TestPublishRelayList(t *testing.T) {
	ctx := context.Background()
	pool := relay.NewMemoryPool()
	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)

	m := NewManager(pool, nil)
	id, err := m.PublishRelayList(ctx, []RelayListEntry{
		{URL: "ws://relay.example", Read: true, Write: true},
	}, keys)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored := pool.Stored()
	require.Len(t, stored, 1)
	assert.Equal(t, nostr.KindRelayList, stored[0].Kind)
	assert.Equal(t, nostr.Tag{"r", "ws://relay.example"}, stored[0].Tags[0])
}

func TestPublishRelayListFailsWithNoAcceptance(t *testing.T) {
	ctx := context.Background()
	pool := relay.NewMemoryPool()
	pool.PublishErr = relay.ErrPublish

	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)

	m := NewManager(pool, nil)
	_, err = m.PublishRelayList(ctx, []RelayListEntry{
		{URL: "ws://relay.example", Write: true},
	}, keys)
	assert.ErrorIs(t, err, ErrPublishFailed)
}

func TestCheckRelayHealth(t *testing.T) {
	ctx := context.Background()
	pool := relay.NewMemoryPool()
	m := NewManager(pool, nil)

	t.Run("invalid scheme", func(t *testing.T) {
		res := m.CheckRelayHealth(ctx, "http://relay.example")
		assert.Equal(t, HealthInvalid, res.Status)
	})

	t.Run("empty", func(t *testing.T) {
		res := m.CheckRelayHealth(ctx, "  ")
		assert.Equal(t, HealthInvalid, res.Status)
	})

	t.Run("connectable", func(t *testing.T) {
		res := m.CheckRelayHealth(ctx, "ws://relay.example")
		assert.Equal(t, HealthConnected, res.Status)
	})
}
