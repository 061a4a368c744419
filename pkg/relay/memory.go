package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ostia/ostia-node/pkg/nostr"
)

// MemoryPool is an in-memory Pool used to exercise the protocol engine
// without a transport. It behaves like a single shared relay: published
// events are stored, fed to matching subscriptions, and served by Fetch.
// Two MemoryPools created with SharedBackend over the same backend model two
// clients on one relay network.
type MemoryPool struct {
	mu          sync.RWMutex
	relays      map[string]bool // url -> connected
	backend     *MemoryBackend
	subs        map[string]*Subscription
	closed      bool
	PublishErr  error           // when set, Publish/PublishTo fail with this error
	FailConnect map[string]bool // urls that refuse every connect attempt
}

// MemoryBackend is the shared event store behind one or more MemoryPools.
type MemoryBackend struct {
	mu     sync.RWMutex
	events []*nostr.Event
	byID   map[string]bool
	subs   map[string]*memorySub
}

type memorySub struct {
	filters []nostr.Filter
	out     chan *nostr.Event
}

// NewMemoryBackend creates an empty shared relay network.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		byID: make(map[string]bool),
		subs: make(map[string]*memorySub),
	}
}

func (b *MemoryBackend) store(ev *nostr.Event) {
	b.mu.Lock()
	if !b.byID[ev.ID] {
		b.byID[ev.ID] = true
		b.events = append(b.events, ev)
	}
	subs := make([]*memorySub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		for i := range s.filters {
			if s.filters[i].Matches(ev) {
				select {
				case s.out <- ev:
				default:
				}
				break
			}
		}
	}
}

func (b *MemoryBackend) query(filters []nostr.Filter) []*nostr.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*nostr.Event
	for _, ev := range b.events {
		for i := range filters {
			if filters[i].Matches(ev) {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// NewMemoryPool creates a pool over a fresh backend.
func NewMemoryPool() *MemoryPool {
	return SharedBackend(NewMemoryBackend())
}

// SharedBackend creates a pool over an existing backend so several pools can
// see each other's traffic.
func SharedBackend(backend *MemoryBackend) *MemoryPool {
	return &MemoryPool{
		relays:  make(map[string]bool),
		backend: backend,
		subs:    make(map[string]*Subscription),
	}
}

// Backend exposes the shared store, for wiring a second pool in tests.
func (p *MemoryPool) Backend() *MemoryBackend { return p.backend }

// Stored returns a snapshot of every event held by the backend.
func (p *MemoryPool) Stored() []*nostr.Event {
	return p.backend.query([]nostr.Filter{{}})
}

func (p *MemoryPool) AddRelay(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if _, ok := p.relays[url]; !ok {
		p.relays[url] = false
	}
	return nil
}

func (p *MemoryPool) RemoveRelay(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.relays, url)
}

func (p *MemoryPool) Connect(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url := range p.relays {
		p.relays[url] = !p.FailConnect[url]
	}
}

func (p *MemoryPool) ConnectRelay(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.relays[url]; !ok {
		return ErrNoRelays
	}
	if p.FailConnect[url] {
		return ErrNotConnected
	}
	p.relays[url] = true
	return nil
}

// SetFailConnect toggles connect failures for one url, for exercising
// reconnect paths.
func (p *MemoryPool) SetFailConnect(url string, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailConnect == nil {
		p.FailConnect = make(map[string]bool)
	}
	p.FailConnect[url] = fail
}

func (p *MemoryPool) Relays() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.relays))
	for url := range p.relays {
		out = append(out, url)
	}
	return out
}

func (p *MemoryPool) IsConnected(url string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.relays[url]
}

func (p *MemoryPool) ConnectedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, connected := range p.relays {
		if connected {
			n++
		}
	}
	return n
}

func (p *MemoryPool) Publish(ctx context.Context, ev *nostr.Event) error {
	p.mu.RLock()
	failErr := p.PublishErr
	connected := 0
	for _, c := range p.relays {
		if c {
			connected++
		}
	}
	p.mu.RUnlock()
	if failErr != nil {
		return failErr
	}
	if connected == 0 {
		return ErrNoRelays
	}
	p.backend.store(ev)
	return nil
}

func (p *MemoryPool) PublishTo(ctx context.Context, url string, ev *nostr.Event) error {
	p.mu.RLock()
	failErr := p.PublishErr
	connected, tracked := p.relays[url]
	p.mu.RUnlock()
	if failErr != nil {
		return failErr
	}
	if !tracked {
		return ErrNoRelays
	}
	if !connected {
		return ErrNotConnected
	}
	p.backend.store(ev)
	return nil
}

func (p *MemoryPool) Subscribe(ctx context.Context, filters []nostr.Filter) (*Subscription, error) {
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
	p.subs[sub.ID] = sub
	p.mu.Unlock()

	p.backend.mu.Lock()
	p.backend.subs[sub.ID] = &memorySub{filters: filters, out: sub.Events}
	p.backend.mu.Unlock()

	id := sub.ID
	sub.cancel = func() {
		p.backend.mu.Lock()
		delete(p.backend.subs, id)
		p.backend.mu.Unlock()
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
	return sub, nil
}

func (p *MemoryPool) Resubscribe(ctx context.Context, sub *Subscription) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.subs[sub.ID]; !ok {
		return ErrPoolClosed
	}
	return nil
}

func (p *MemoryPool) Fetch(ctx context.Context, filters []nostr.Filter, timeout time.Duration) ([]*nostr.Event, error) {
	if p.ConnectedCount() == 0 {
		return nil, ErrNoRelays
	}
	return p.backend.query(filters), nil
}

func (p *MemoryPool) Close() {
	p.mu.Lock()
	p.closed = true
	for url := range p.relays {
		p.relays[url] = false
	}
	subs := make([]*Subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}
