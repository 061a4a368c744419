package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ostia/ostia-node/pkg/nostr"
)

const controlSendTimeout = 5 * time.Second

// sendControl wraps a control payload in the same envelope as a normal
// message and fires it at the pool. Control traffic is fire-and-forget:
// it is never stored locally and failures are returned but carry no retry.
func (s *Service) sendControl(ctx context.Context, receiverPubkey string, cp controlPayload) error {
	keys, err := s.requireInit()
	if err != nil {
		return err
	}
	receiverHex, _, err := nostr.ParsePublicKey(receiverPubkey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	cp.V = 1
	body, err := json.Marshal(cp)
	if err != nil {
		return err
	}

	wrap, err := s.envelope.CreatePrivateMessage(string(body), receiverHex, keys)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, controlSendTimeout)
	defer cancel()
	if err := s.pool.Publish(ctx, wrap); err != nil {
		return fmt.Errorf("%w: %v", ErrRelayNetwork, err)
	}
	return nil
}

// SendTyping signals the peer that we are composing a message.
func (s *Service) SendTyping(ctx context.Context, receiverPubkey string) error {
	return s.sendControl(ctx, receiverPubkey, controlPayload{Type: "typing"})
}

// SendPresence announces our availability status to a peer.
func (s *Service) SendPresence(ctx context.Context, receiverPubkey, status string) error {
	return s.sendControl(ctx, receiverPubkey, controlPayload{Type: "presence", Status: status})
}

// SendReadReceipt tells the peer which of their messages we have read, and
// marks them read locally.
func (s *Service) SendReadReceipt(ctx context.Context, receiverPubkey string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := s.sendControl(ctx, receiverPubkey, controlPayload{Type: "read_receipt", MessageIDs: messageIDs}); err != nil {
		return err
	}
	return s.store.MarkMessagesRead(messageIDs)
}
