package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/nostr"
)

// subEventBuffer bounds per-subscription delivery; a slow consumer drops
// events rather than stalling the read loop.
const subEventBuffer = 256

type okResult struct {
	accepted bool
	reason   string
}

type clientSub struct {
	events chan *nostr.Event
	eose   chan struct{}
	once   sync.Once
}

// Client is a single websocket connection to one relay.
type Client struct {
	url string
	log *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	pending   map[string]chan okResult // event id -> ack
	subs      map[string]*clientSub
}

// NewClient prepares a client for a relay url without dialing it.
func NewClient(url string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:     url,
		log:     log,
		pending: make(map[string]chan okResult),
		subs:    make(map[string]*clientSub),
	}
}

// URL returns the relay endpoint this client talks to.
func (c *Client) URL() string { return c.url }

// IsConnected reports whether the websocket is currently live.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect dials the relay and starts the read loop. Reconnecting an already
// connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Close tears down the connection; pending publishes fail with ErrNotConnected.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Publish sends an event and waits for the relay's OK frame.
func (c *Client) Publish(ctx context.Context, ev *nostr.Event) error {
	data, err := nostr.EncodeEventMessage(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ack := make(chan okResult, 1)
	c.mu.Lock()
	c.pending[ev.ID] = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ev.ID)
		c.mu.Unlock()
	}()

	if err := c.write(data); err != nil {
		return err
	}

	select {
	case res, ok := <-ack:
		if !ok {
			return ErrNotConnected
		}
		if !res.accepted {
			return fmt.Errorf("relay %s rejected event: %s", c.url, res.reason)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe issues a REQ under the given id, delivering events to the
// returned channel until Unsubscribe.
func (c *Client) Subscribe(subID string, filters []nostr.Filter) (<-chan *nostr.Event, error) {
	sub := &clientSub{
		events: make(chan *nostr.Event, subEventBuffer),
		eose:   make(chan struct{}),
	}
	c.mu.Lock()
	c.subs[subID] = sub
	c.mu.Unlock()

	if err := c.sendReq(subID, filters); err != nil {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
		return nil, err
	}
	return sub.events, nil
}

// SubscribeInto is like Subscribe but delivers into a caller-owned channel,
// used by the pool to merge streams from several relays.
func (c *Client) SubscribeInto(subID string, filters []nostr.Filter, out chan *nostr.Event) error {
	sub := &clientSub{events: out, eose: make(chan struct{})}
	c.mu.Lock()
	c.subs[subID] = sub
	c.mu.Unlock()

	if err := c.sendReq(subID, filters); err != nil {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Resubscribe re-sends the REQ for an existing subscription id.
func (c *Client) Resubscribe(subID string, filters []nostr.Filter) error {
	c.mu.Lock()
	_, ok := c.subs[subID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown subscription %s", subID)
	}
	return c.sendReq(subID, filters)
}

func (c *Client) sendReq(subID string, filters []nostr.Filter) error {
	data, err := nostr.EncodeReqMessage(subID, filters)
	if err != nil {
		return fmt.Errorf("failed to encode req: %w", err)
	}
	return c.write(data)
}

// Unsubscribe closes a subscription on the relay side and stops delivery.
func (c *Client) Unsubscribe(subID string) {
	c.mu.Lock()
	delete(c.subs, subID)
	c.mu.Unlock()
	if data, err := nostr.EncodeCloseMessage(subID); err == nil {
		_ = c.write(data)
	}
}

// Fetch collects stored events for the filters until the relay signals
// end-of-stored-events or the timeout elapses.
func (c *Client) Fetch(ctx context.Context, subID string, filters []nostr.Filter, timeout time.Duration) ([]*nostr.Event, error) {
	sub := &clientSub{
		events: make(chan *nostr.Event, subEventBuffer),
		eose:   make(chan struct{}),
	}
	c.mu.Lock()
	c.subs[subID] = sub
	c.mu.Unlock()
	defer c.Unsubscribe(subID)

	if err := c.sendReq(subID, filters); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var events []*nostr.Event
	for {
		select {
		case ev := <-sub.events:
			events = append(events, ev)
		case <-sub.eose:
			// Drain anything that raced the EOSE signal.
			for {
				select {
				case ev := <-sub.events:
					events = append(events, ev)
				default:
					return events, nil
				}
			}
		case <-timer.C:
			return events, nil
		case <-ctx.Done():
			return events, ctx.Err()
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Debug("relay read loop ended", zap.String("relay", c.url), zap.Error(err))
			c.Close()
			return
		}

		msg, err := nostr.DecodeRelayMessage(data)
		if err != nil {
			c.log.Debug("dropping malformed relay frame", zap.String("relay", c.url), zap.Error(err))
			continue
		}

		switch msg.Type {
		case nostr.MsgEvent:
			c.mu.Lock()
			sub := c.subs[msg.SubID]
			c.mu.Unlock()
			if sub == nil {
				continue
			}
			select {
			case sub.events <- msg.Event:
			default:
				c.log.Warn("subscription buffer full, dropping event",
					zap.String("relay", c.url), zap.String("sub", msg.SubID))
			}
		case nostr.MsgOK:
			c.mu.Lock()
			ack := c.pending[msg.EventID]
			c.mu.Unlock()
			if ack != nil {
				ack <- okResult{accepted: msg.Accepted, reason: msg.Reason}
			}
		case nostr.MsgEOSE:
			c.mu.Lock()
			sub := c.subs[msg.SubID]
			c.mu.Unlock()
			if sub != nil {
				sub.once.Do(func() { close(sub.eose) })
			}
		case nostr.MsgNotice:
			c.log.Debug("relay notice", zap.String("relay", c.url), zap.String("notice", msg.Message))
		}
	}
}
