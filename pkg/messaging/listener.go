package messaging

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/nostr"
	"github.com/ostia/ostia-node/pkg/relay"
	"github.com/ostia/ostia-node/pkg/storage"
)

const (
	resubscribeInterval = 60 * time.Second
	notificationBuffer  = 64
)

// StartListener subscribes to live gift wraps addressed to us plus profile
// metadata from whitelisted peers, and streams notifications until ctx is
// cancelled or the service closes. A nil whitelist admits ourselves and
// stored contacts. Only one listener runs per service; the flag is released
// when the listener goroutine exits. The relay health monitor is (re)started
// so a degraded pool recovers while listening.
func (s *Service) StartListener(ctx context.Context, whitelist []string) (<-chan Notification, error) {
	keys, err := s.requireInit()
	if err != nil {
		return nil, err
	}
	if !s.listenerRunning.CompareAndSwap(false, true) {
		return nil, ErrListenerRunning
	}

	var wl map[string]bool
	var authors []string
	if whitelist != nil {
		wl = make(map[string]bool, len(whitelist))
		for _, pk := range whitelist {
			pubHex, _, err := nostr.ParsePublicKey(pk)
			if err != nil {
				s.listenerRunning.Store(false)
				return nil, err
			}
			wl[pubHex] = true
			authors = append(authors, pubHex)
		}
	} else if contacts, err := s.store.ListContacts(); err == nil {
		for _, c := range contacts {
			authors = append(authors, c.PubKey)
		}
	}

	now := time.Now().Unix()
	filters := []nostr.Filter{{
		Kinds: []int{nostr.KindGiftWrap},
		PTags: []string{keys.PublicKeyHex()},
		Since: now,
	}}
	if len(authors) > 0 {
		filters = append(filters, nostr.Filter{
			Kinds:   []int{nostr.KindMetadata},
			Authors: authors,
			Since:   now,
		})
	}

	sub, err := s.pool.Subscribe(ctx, filters)
	if err != nil {
		s.listenerRunning.Store(false)
		return nil, err
	}

	out := make(chan Notification, notificationBuffer)
	s.mu.Lock()
	s.liveOut = out
	s.mu.Unlock()
	s.startHealthMonitor()
	go s.runListener(ctx, sub, wl, out)
	return out, nil
}

func (s *Service) runListener(ctx context.Context, sub *relay.Subscription, wl map[string]bool, out chan<- Notification) {
	defer func() {
		s.mu.Lock()
		s.liveOut = nil
		s.mu.Unlock()
		sub.Cancel()
		close(out)
		s.listenerRunning.Store(false)
	}()

	// Periodic resubscription keeps the subscription alive across relays
	// that silently drop idle REQs.
	keepalive := time.NewTicker(resubscribeInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-keepalive.C:
			if err := s.pool.Resubscribe(ctx, sub); err != nil {
				s.log.Warn("resubscribe failed", zap.Error(err))
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			s.handleLiveEvent(ev, wl, out)
		}
	}
}

func (s *Service) handleLiveEvent(ev *nostr.Event, wl map[string]bool, out chan<- Notification) {
	switch ev.Kind {
	case nostr.KindMetadata:
		if n := s.handleMetadata(ev); n != nil {
			deliver(out, *n)
		}
	case nostr.KindGiftWrap:
		res, err := s.processGiftWrap(ev, wl, true)
		if err != nil {
			s.log.Debug("live event dropped", zap.String("id", ev.ID), zap.Error(err))
			return
		}
		if res.notification != nil {
			deliver(out, *res.notification)
		}
	}
}

// handleMetadata applies a profile event to the contact table.
func (s *Service) handleMetadata(ev *nostr.Event) *Notification {
	if err := ev.Verify(); err != nil {
		return nil
	}
	var profile struct {
		Name    string `json:"name"`
		About   string `json:"about"`
		Picture string `json:"picture"`
	}
	if err := json.Unmarshal([]byte(ev.Content), &profile); err != nil {
		s.log.Debug("unparseable profile metadata", zap.String("pubkey", ev.PubKey))
		return nil
	}
	contact := &storage.Contact{
		PubKey:    ev.PubKey,
		Name:      profile.Name,
		About:     profile.About,
		Picture:   profile.Picture,
		UpdatedAt: ev.CreatedAt,
	}
	if err := s.store.UpsertContactProfile(contact); err != nil {
		s.log.Warn("failed to store contact profile", zap.Error(err))
		return nil
	}
	return &Notification{
		Type:    NotificationProfile,
		Peer:    ev.PubKey,
		Profile: contact,
	}
}

// deliver drops notifications when the consumer falls behind rather than
// blocking the listener.
func deliver(out chan<- Notification, n Notification) {
	select {
	case out <- n:
	default:
	}
}
