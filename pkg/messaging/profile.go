package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/nostr"
	"github.com/ostia/ostia-node/pkg/storage"
)

const profileFetchTimeout = 10 * time.Second

// Profile is the public metadata a user publishes about themselves.
type Profile struct {
	Name    string `json:"name,omitempty"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// SetMetadata publishes our profile metadata to the pool.
func (s *Service) SetMetadata(ctx context.Context, profile Profile) (string, error) {
	keys, err := s.requireInit()
	if err != nil {
		return "", err
	}
	content, err := json.Marshal(profile)
	if err != nil {
		return "", err
	}

	ev := &nostr.Event{Kind: nostr.KindMetadata, Content: string(content)}
	if err := ev.Sign(keys); err != nil {
		return "", err
	}
	if err := s.pool.Publish(ctx, ev); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRelayNetwork, err)
	}
	return ev.ID, nil
}

// FetchProfile retrieves the latest profile metadata for a peer from the
// pool and caches it in the contact table.
func (s *Service) FetchProfile(ctx context.Context, pubkey string) (*storage.Contact, error) {
	if _, err := s.requireInit(); err != nil {
		return nil, err
	}
	pubHex, _, err := nostr.ParsePublicKey(pubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	filter := nostr.Filter{
		Kinds:   []int{nostr.KindMetadata},
		Authors: []string{pubHex},
		Limit:   1,
	}
	events, err := s.pool.Fetch(ctx, []nostr.Filter{filter}, profileFetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelayNetwork, err)
	}

	var latest *nostr.Event
	for _, ev := range events {
		if latest == nil || ev.CreatedAt > latest.CreatedAt {
			latest = ev
		}
	}
	if latest == nil {
		// No profile on the network; fall back to whatever we stored.
		return s.store.GetContact(pubHex)
	}

	if n := s.handleMetadata(latest); n != nil {
		return n.Profile, nil
	}
	return s.store.GetContact(pubHex)
}

// DeleteMessage publishes a deletion event for one of our messages and
// tombstones it locally so relay copies cannot resurrect it.
func (s *Service) DeleteMessage(ctx context.Context, eventID string) error {
	keys, err := s.requireInit()
	if err != nil {
		return err
	}

	ev := &nostr.Event{
		Kind:    nostr.KindEventDeletion,
		Tags:    []nostr.Tag{{"e", eventID}},
		Content: "",
	}
	if err := ev.Sign(keys); err != nil {
		return err
	}
	if err := s.pool.Publish(ctx, ev); err != nil {
		// Tombstone locally even when the network publish fails; the
		// deletion event can be re-sent but the local copy must go now.
		s.log.Warn("deletion publish failed", zap.Error(err))
	}
	return s.store.MarkEventDeleted(eventID, keys.PublicKeyHex())
}
