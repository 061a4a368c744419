package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/nostr"
)

// ClientPool is the production Pool: one websocket client per relay url.
// Connection statuses are mirrored into the bookkeeping Manager when one is
// attached, so status queries never touch the network.
type ClientPool struct {
	log *zap.Logger
	mgr *Manager

	mu      sync.RWMutex
	clients map[string]*Client
	subs    map[string]*Subscription
	closed  bool
}

// NewClientPool creates an empty pool. mgr may be nil.
func NewClientPool(mgr *Manager, log *zap.Logger) *ClientPool {
	if log == nil {
		log = zap.NewNop()
	}
	return &ClientPool{
		log:     log,
		mgr:     mgr,
		clients: make(map[string]*Client),
		subs:    make(map[string]*Subscription),
	}
}

func (p *ClientPool) setStatus(url string, status Status) {
	if p.mgr != nil {
		p.mgr.UpdateStatus(url, status)
	}
}

// AddRelay tracks a relay endpoint. Idempotent; does not connect.
func (p *ClientPool) AddRelay(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if _, ok := p.clients[url]; ok {
		return nil
	}
	p.clients[url] = NewClient(url, p.log)
	p.setStatus(url, Status{State: StateDisconnected})
	return nil
}

// RemoveRelay drops a relay and closes its connection if open.
func (p *ClientPool) RemoveRelay(url string) {
	p.mu.Lock()
	client, ok := p.clients[url]
	delete(p.clients, url)
	p.mu.Unlock()
	if ok {
		client.Close()
	}
	p.setStatus(url, Status{State: StateDisconnected})
}

// Relays lists tracked relay urls.
func (p *ClientPool) Relays() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.clients))
	for url := range p.clients {
		out = append(out, url)
	}
	return out
}

// IsConnected reports whether the relay has a live connection.
func (p *ClientPool) IsConnected(url string) bool {
	p.mu.RLock()
	client := p.clients[url]
	p.mu.RUnlock()
	return client != nil && client.IsConnected()
}

// ConnectedCount returns the number of live connections.
func (p *ClientPool) ConnectedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, c := range p.clients {
		if c.IsConnected() {
			n++
		}
	}
	return n
}

// Connect dials every tracked relay in parallel. Already connected relays
// are skipped; freshly connected ones receive the REQ of every live
// subscription so streams keep flowing after reconnects.
func (p *ClientPool) Connect(ctx context.Context) {
	p.mu.RLock()
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, client := range clients {
		if client.IsConnected() {
			continue
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			p.setStatus(c.URL(), Status{State: StateConnecting})
			if err := c.Connect(ctx); err != nil {
				p.log.Warn("relay connect failed", zap.String("relay", c.URL()), zap.Error(err))
				p.setStatus(c.URL(), Status{State: StateFailed, Reason: err.Error()})
				return
			}
			p.setStatus(c.URL(), Status{State: StateConnected})
			p.attachSubscriptions(c)
		}(client)
	}
	wg.Wait()
}

// ConnectRelay dials a single relay, bounded by ctx.
func (p *ClientPool) ConnectRelay(ctx context.Context, url string) error {
	p.mu.RLock()
	client := p.clients[url]
	p.mu.RUnlock()
	if client == nil {
		return ErrNoRelays
	}
	p.setStatus(url, Status{State: StateConnecting})
	if err := client.Connect(ctx); err != nil {
		p.setStatus(url, Status{State: StateFailed, Reason: err.Error()})
		return err
	}
	p.setStatus(url, Status{State: StateConnected})
	p.attachSubscriptions(client)
	return nil
}

func (p *ClientPool) attachSubscriptions(c *Client) {
	p.mu.RLock()
	subs := make([]*Subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.RUnlock()
	for _, s := range subs {
		if err := c.SubscribeInto(s.ID, s.Filters, s.Events); err != nil {
			p.log.Debug("failed to attach subscription",
				zap.String("relay", c.URL()), zap.String("sub", s.ID), zap.Error(err))
		}
	}
}

func (p *ClientPool) connectedClients() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		if c.IsConnected() {
			out = append(out, c)
		}
	}
	return out
}

// Publish broadcasts to every connected relay; nil when at least one accepts.
func (p *ClientPool) Publish(ctx context.Context, ev *nostr.Event) error {
	clients := p.connectedClients()
	if len(clients) == 0 {
		return ErrNoRelays
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		okCount int
		lastErr error
	)
	for _, client := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := c.Publish(ctx, ev); err != nil {
				mu.Lock()
				lastErr = err
				mu.Unlock()
				return
			}
			mu.Lock()
			okCount++
			mu.Unlock()
		}(client)
	}
	wg.Wait()

	if okCount == 0 {
		if lastErr != nil {
			return lastErr
		}
		return ErrPublish
	}
	return nil
}

// PublishTo sends to one relay and waits for its ack.
func (p *ClientPool) PublishTo(ctx context.Context, url string, ev *nostr.Event) error {
	p.mu.RLock()
	client := p.clients[url]
	p.mu.RUnlock()
	if client == nil {
		return ErrNoRelays
	}
	if !client.IsConnected() {
		return ErrNotConnected
	}
	return client.Publish(ctx, ev)
}

// Subscribe opens a merged subscription across every connected relay.
func (p *ClientPool) Subscribe(ctx context.Context, filters []nostr.Filter) (*Subscription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	sub := &Subscription{
		ID:      uuid.NewString(),
		Filters: filters,
		Events:  make(chan *nostr.Event, subEventBuffer),
	}
	sub.cancel = func() { p.dropSubscription(sub.ID) }
	p.subs[sub.ID] = sub
	p.mu.Unlock()

	for _, client := range p.connectedClients() {
		if err := client.SubscribeInto(sub.ID, filters, sub.Events); err != nil {
			p.log.Debug("subscribe failed on relay",
				zap.String("relay", client.URL()), zap.Error(err))
		}
	}
	return sub, nil
}

// Resubscribe re-issues the REQ for a live subscription on every connected
// relay, covering relays that joined after Subscribe and acting as keepalive.
func (p *ClientPool) Resubscribe(ctx context.Context, sub *Subscription) error {
	p.mu.RLock()
	_, live := p.subs[sub.ID]
	p.mu.RUnlock()
	if !live {
		return ErrPoolClosed
	}
	for _, client := range p.connectedClients() {
		if err := client.Resubscribe(sub.ID, sub.Filters); err != nil {
			// Relay may not have seen this sub yet; attach fresh.
			_ = client.SubscribeInto(sub.ID, sub.Filters, sub.Events)
		}
	}
	return nil
}

func (p *ClientPool) dropSubscription(id string) {
	p.mu.Lock()
	delete(p.subs, id)
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.Unlock()
	for _, c := range clients {
		c.Unsubscribe(id)
	}
}

// Fetch queries all connected relays in parallel, deduplicating by event id.
func (p *ClientPool) Fetch(ctx context.Context, filters []nostr.Filter, timeout time.Duration) ([]*nostr.Event, error) {
	clients := p.connectedClients()
	if len(clients) == 0 {
		return nil, ErrNoRelays
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		seen    = make(map[string]bool)
		merged  []*nostr.Event
		lastErr error
		okCount int
	)
	for _, client := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			events, err := c.Fetch(ctx, uuid.NewString(), filters, timeout)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
			} else {
				okCount++
			}
			for _, ev := range events {
				if !seen[ev.ID] {
					seen[ev.ID] = true
					merged = append(merged, ev)
				}
			}
		}(client)
	}
	wg.Wait()

	if okCount == 0 && lastErr != nil {
		return merged, lastErr
	}
	return merged, nil
}

// Close tears down every connection and live subscription.
func (p *ClientPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.subs = make(map[string]*Subscription)
	p.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
