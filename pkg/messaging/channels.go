package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ostia/ostia-node/pkg/nostr"
)

const channelFetchTimeout = 10 * time.Second

// ChannelInfo is the metadata body of a channel creation or update event.
type ChannelInfo struct {
	Name    string `json:"name"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// ChannelMessage is one plaintext message in a public channel.
type ChannelMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// CreateChannel publishes a public channel and returns its id (the creation
// event id). Channel traffic is plaintext; private conversations stay on the
// gift-wrap path.
func (s *Service) CreateChannel(ctx context.Context, info ChannelInfo) (string, error) {
	keys, err := s.requireInit()
	if err != nil {
		return "", err
	}
	content, err := json.Marshal(info)
	if err != nil {
		return "", err
	}

	ev := &nostr.Event{Kind: nostr.KindChannelCreation, Content: string(content)}
	if err := ev.Sign(keys); err != nil {
		return "", err
	}
	if err := s.pool.Publish(ctx, ev); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRelayNetwork, err)
	}
	return ev.ID, nil
}

// SendChannelMessage posts a message into a channel.
func (s *Service) SendChannelMessage(ctx context.Context, channelID, content string) (string, error) {
	keys, err := s.requireInit()
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", ErrEmptyMessage
	}

	ev := &nostr.Event{
		Kind:    nostr.KindChannelMessage,
		Tags:    []nostr.Tag{{"e", channelID, "", "root"}},
		Content: content,
	}
	if err := ev.Sign(keys); err != nil {
		return "", err
	}
	if err := s.pool.Publish(ctx, ev); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRelayNetwork, err)
	}
	return ev.ID, nil
}

// FetchChannelMessages retrieves recent messages for a channel, oldest first.
func (s *Service) FetchChannelMessages(ctx context.Context, channelID string, limit int) ([]*ChannelMessage, error) {
	if _, err := s.requireInit(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	filter := nostr.Filter{
		Kinds: []int{nostr.KindChannelMessage},
		ETags: []string{channelID},
		Limit: limit,
	}
	events, err := s.pool.Fetch(ctx, []nostr.Filter{filter}, channelFetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelayNetwork, err)
	}

	out := make([]*ChannelMessage, 0, len(events))
	for _, ev := range events {
		if err := ev.Verify(); err != nil {
			continue
		}
		out = append(out, &ChannelMessage{
			ID:        ev.ID,
			ChannelID: channelID,
			Author:    ev.PubKey,
			Content:   ev.Content,
			Timestamp: ev.CreatedAt,
		})
	}
	sortChannelMessages(out)
	return out, nil
}

// QueryChannels lists channels created by the given authors, or any author
// when the list is empty.
func (s *Service) QueryChannels(ctx context.Context, authors []string, limit int) (map[string]*ChannelInfo, error) {
	if _, err := s.requireInit(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	filter := nostr.Filter{Kinds: []int{nostr.KindChannelCreation}, Limit: limit}
	for _, a := range authors {
		pubHex, _, err := nostr.ParsePublicKey(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		filter.Authors = append(filter.Authors, pubHex)
	}

	events, err := s.pool.Fetch(ctx, []nostr.Filter{filter}, channelFetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelayNetwork, err)
	}

	channels := make(map[string]*ChannelInfo, len(events))
	for _, ev := range events {
		var info ChannelInfo
		if err := json.Unmarshal([]byte(ev.Content), &info); err != nil {
			continue
		}
		channels[ev.ID] = &info
	}
	return channels, nil
}

func sortChannelMessages(msgs []*ChannelMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}
