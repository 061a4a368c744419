package relay

import (
	"context"
	"errors"
	"time"

	"github.com/ostia/ostia-node/pkg/nostr"
)

var (
	ErrNoRelays     = errors.New("no relays available")
	ErrNotConnected = errors.New("relay not connected")
	ErrPublish      = errors.New("publish not acknowledged by any relay")
	ErrPoolClosed   = errors.New("pool closed")
)

// Subscription is a live event stream merged across the pool's relays.
// Events arrive on Events until Cancel is called or the pool closes.
type Subscription struct {
	ID      string
	Filters []nostr.Filter
	Events  chan *nostr.Event

	cancel func()
}

// Cancel tears down the subscription on every relay.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Pool is the capability surface the protocol engine needs from a relay
// pool. The engine is written against this interface so it can run on the
// websocket pool in production and the in-memory pool in tests.
type Pool interface {
	// AddRelay starts tracking a relay endpoint. It does not connect.
	AddRelay(url string) error
	// RemoveRelay drops a relay and closes its connection if open.
	RemoveRelay(url string)
	// Connect dials every tracked relay that is not already connected.
	Connect(ctx context.Context)
	// ConnectRelay dials one relay, bounded by ctx.
	ConnectRelay(ctx context.Context, url string) error
	// Relays lists tracked relay urls.
	Relays() []string
	// IsConnected reports whether a relay currently has a live connection.
	IsConnected(url string) bool
	// ConnectedCount returns the number of live connections.
	ConnectedCount() int
	// Publish broadcasts an event; nil when at least one relay accepts it.
	Publish(ctx context.Context, ev *nostr.Event) error
	// PublishTo sends an event to a single relay and waits for its ack.
	PublishTo(ctx context.Context, url string, ev *nostr.Event) error
	// Subscribe opens a long-lived subscription across connected relays.
	Subscribe(ctx context.Context, filters []nostr.Filter) (*Subscription, error)
	// Resubscribe re-issues a subscription's REQ, used as a keepalive and
	// to cover relays that connected after Subscribe.
	Resubscribe(ctx context.Context, sub *Subscription) error
	// Fetch collects stored events matching the filters until every relay
	// reports end-of-stored-events or the timeout elapses.
	Fetch(ctx context.Context, filters []nostr.Filter, timeout time.Duration) ([]*nostr.Event, error)
	// Close tears down every connection.
	Close()
}
