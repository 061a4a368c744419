package messaging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/nostr"
	"github.com/ostia/ostia-node/pkg/storage"
)

const (
	sendTimeout      = 20 * time.Second
	discoveryTimeout = 10 * time.Second
	confirmAttempts  = 2
	confirmDelay     = 600 * time.Millisecond
)

// Send encrypts content for the receiver, discovers the receiver's write
// relays and publishes the gift wrap. The whole operation is bounded to 20
// seconds; a failed publish gets one reconnect-and-retry. It returns the
// gift-wrap event id, which is also the local message id.
func (s *Service) Send(ctx context.Context, receiverPubkey, content string) (string, error) {
	keys, err := s.requireInit()
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", ErrEmptyMessage
	}
	// Validate the target before any network work.
	receiverHex, _, err := nostr.ParsePublicKey(receiverPubkey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	wrap, err := s.envelope.CreatePrivateMessage(content, receiverHex, keys)
	if err != nil {
		return "", err
	}

	msgType, mediaURL := classifyContent(content)
	record := &storage.MessageRecord{
		ID:          wrap.ID,
		Sender:      keys.PublicKeyHex(),
		Receiver:    receiverHex,
		Content:     content,
		Timestamp:   wrap.CreatedAt,
		Status:      storage.MessageStatusSending,
		MessageType: msgType,
		MediaURL:    mediaURL,
	}
	if _, err := s.store.SaveMessage(record); err != nil {
		return "", err
	}

	targets := s.discoverWriteRelays(ctx, receiverHex)

	published, err := s.publishWrap(ctx, wrap, targets)
	if err != nil {
		s.log.Warn("publish failed, reconnecting for retry", zap.Error(err))
		if rerr := s.reconnectWithBackoff(ctx); rerr == nil {
			published, err = s.publishWrap(ctx, wrap, targets)
		}
	}
	if err != nil {
		if serr := s.store.UpdateMessageStatus(wrap.ID, storage.MessageStatusFailed); serr != nil {
			s.log.Warn("failed to mark message failed", zap.Error(serr))
		}
		return "", err
	}

	if err := s.store.UpdateMessageStatus(wrap.ID, storage.MessageStatusSent); err != nil {
		s.log.Warn("failed to mark message sent", zap.Error(err))
	}

	// A single accepting relay is a fragile delivery; confirm the event
	// actually landed and re-publish if it went missing.
	if published == 1 {
		go s.confirmDelivery(wrap)
	}

	s.log.Info("message sent",
		zap.String("id", wrap.ID),
		zap.Int("relays", published))
	return wrap.ID, nil
}

// discoverWriteRelays queries the receiver's relay list and wires its
// write-capable relays into the pool. An empty result falls back to the
// already configured relays.
func (s *Service) discoverWriteRelays(ctx context.Context, receiverHex string) []string {
	discCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	entries, err := s.discovery.QueryUserRelays(discCtx, receiverHex, discoveryTimeout)
	if err != nil {
		s.log.Warn("relay discovery failed, using configured relays", zap.Error(err))
		return nil
	}

	var targets []string
	for _, entry := range entries {
		if !entry.Write {
			continue
		}
		if err := s.pool.AddRelay(entry.URL); err != nil {
			continue
		}
		targets = append(targets, entry.URL)
	}
	if len(targets) > 0 {
		s.pool.Connect(discCtx)
	}
	return targets
}

// publishWrap sends the event to each discovered target, counting per-relay
// acks, and falls back to a pool-wide broadcast when targeting yields
// nothing.
func (s *Service) publishWrap(ctx context.Context, ev *nostr.Event, targets []string) (int, error) {
	published := 0
	for _, url := range targets {
		if err := s.pool.PublishTo(ctx, url, ev); err != nil {
			s.log.Debug("targeted publish failed", zap.String("url", url), zap.Error(err))
			continue
		}
		published++
	}
	if published > 0 {
		return published, nil
	}

	if err := s.pool.Publish(ctx, ev); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRelayNetwork, err)
	}
	return 1, nil
}

// confirmDelivery checks that a single-relay publish is actually queryable
// and re-publishes when it is not. Two short attempts, best effort.
func (s *Service) confirmDelivery(ev *nostr.Event) {
	filter := nostr.Filter{IDs: []string{ev.ID}, Limit: 1}
	for attempt := 0; attempt < confirmAttempts; attempt++ {
		select {
		case <-s.done:
			return
		case <-time.After(confirmDelay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), confirmDelay*2)
		found, err := s.pool.Fetch(ctx, []nostr.Filter{filter}, confirmDelay*2)
		if err == nil && len(found) > 0 {
			cancel()
			return
		}
		if err := s.pool.Publish(ctx, ev); err != nil {
			s.log.Debug("delivery confirm republish failed", zap.Error(err))
		}
		cancel()
	}
}
