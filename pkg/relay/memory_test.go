package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ostia/ostia-node/pkg/nostr"
)

func signedEvent(t *testing.T, content string) *nostr.Event {
	t.Helper()
	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)
	ev := &nostr.Event{Kind: nostr.KindTextNote, Content: content}
	require.NoError(t, ev.Sign(keys))
	return ev
}

func TestMemoryPoolPublishFetch(t *testing.T) {
	ctx := context.Background()
	pool := NewMemoryPool()
	require.NoError(t, pool.AddRelay("ws://mem"))

	ev := signedEvent(t, "stored")

	t.Run("publish before connect fails", func(t *testing.T) {
		assert.ErrorIs(t, pool.Publish(ctx, ev), ErrNoRelays)
	})

	pool.Connect(ctx)
	require.NoError(t, pool.Publish(ctx, ev))

	got, err := pool.Fetch(ctx, []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}}, time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
}

func TestMemoryPoolSubscription(t *testing.T) {
	ctx := context.Background()
	pool := NewMemoryPool()
	require.NoError(t, pool.AddRelay("ws://mem"))
	pool.Connect(ctx)

	sub, err := pool.Subscribe(ctx, []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}})
	require.NoError(t, err)
	defer sub.Cancel()

	ev := signedEvent(t, "live")
	require.NoError(t, pool.Publish(ctx, ev))

	select {
	case got := <-sub.Events:
		assert.Equal(t, ev.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("subscription did not deliver the event")
	}
}

func TestMemoryPoolSharedBackend(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	alice := SharedBackend(backend)
	bob := SharedBackend(backend)
	for _, p := range []*MemoryPool{alice, bob} {
		require.NoError(t, p.AddRelay("ws://shared"))
		p.Connect(ctx)
	}

	ev := signedEvent(t, "cross-client")
	require.NoError(t, alice.Publish(ctx, ev))

	got, err := bob.Fetch(ctx, []nostr.Filter{{IDs: []string{ev.ID}}}, time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryPoolPublishErrInjection(t *testing.T) {
	ctx := context.Background()
	pool := NewMemoryPool()
	require.NoError(t, pool.AddRelay("ws://mem"))
	pool.Connect(ctx)

	boom := errors.New("boom")
	pool.PublishErr = boom
	assert.ErrorIs(t, pool.Publish(ctx, signedEvent(t, "x")), boom)

	pool.PublishErr = nil
	assert.NoError(t, pool.Publish(ctx, signedEvent(t, "y")))
}

func TestMemoryPoolClose(t *testing.T) {
	ctx := context.Background()
	pool := NewMemoryPool()
	require.NoError(t, pool.AddRelay("ws://mem"))
	pool.Connect(ctx)

	sub, err := pool.Subscribe(ctx, []nostr.Filter{{}})
	require.NoError(t, err)

	pool.Close()
	assert.Equal(t, 0, pool.ConnectedCount())

	_, err = pool.Subscribe(ctx, []nostr.Filter{{}})
	assert.ErrorIs(t, err, ErrPoolClosed)
	_ = sub
}
