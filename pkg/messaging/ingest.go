package messaging

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/ostia/ostia-node/pkg/nostr"
	"github.com/ostia/ostia-node/pkg/storage"
)

// maxContentSize bounds the decrypted message content accepted from the
// network.
const maxContentSize = 64 * 1024

const imageMarker = "\U0001F4F7 Image: "

// NotificationType tags what a Notification carries.
type NotificationType string

const (
	NotificationMessage     NotificationType = "message"
	NotificationTyping      NotificationType = "typing"
	NotificationPresence    NotificationType = "presence"
	NotificationReadReceipt NotificationType = "read_receipt"
	NotificationProfile     NotificationType = "profile"
)

// Notification is one unit of inbound activity surfaced to the embedding
// application: a stored message, a control signal, or a profile update.
type Notification struct {
	Type       NotificationType       `json:"type"`
	Peer       string                 `json:"peer"`
	Message    *storage.MessageRecord `json:"message,omitempty"`
	MessageIDs []string               `json:"message_ids,omitempty"`
	Status     string                 `json:"status,omitempty"`
	Profile    *storage.Contact       `json:"profile,omitempty"`
}

// controlPayload is the JSON body of an ephemeral control message. Version 1
// is the only version understood; anything else falls through as text.
type controlPayload struct {
	V          int      `json:"v"`
	Type       string   `json:"type"`
	MessageIDs []string `json:"messageIds,omitempty"`
	MessageID  string   `json:"messageId,omitempty"` // older clients send the singular form
	Status     string   `json:"status,omitempty"`
}

func parseControl(content string) (*controlPayload, bool) {
	if !strings.HasPrefix(strings.TrimSpace(content), "{") {
		return nil, false
	}
	var cp controlPayload
	if err := json.Unmarshal([]byte(content), &cp); err != nil {
		return nil, false
	}
	if cp.V != 1 {
		return nil, false
	}
	switch cp.Type {
	case "typing", "presence", "read_receipt":
		if cp.MessageID != "" {
			cp.MessageIDs = append(cp.MessageIDs, cp.MessageID)
		}
		return &cp, true
	}
	return nil, false
}

// classifyContent decides whether a message body is an image reference.
// Image messages either carry the camera marker prefix or are a bare URL
// ending in a known image extension.
func classifyContent(content string) (storage.MessageType, string) {
	if strings.HasPrefix(content, imageMarker) {
		return storage.MessageTypeImage, strings.TrimSpace(strings.TrimPrefix(content, imageMarker))
	}
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		lower := strings.ToLower(trimmed)
		for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp"} {
			if strings.HasSuffix(lower, ext) {
				return storage.MessageTypeImage, trimmed
			}
		}
	}
	return storage.MessageTypeText, ""
}

// isKnownSender reports whether a decrypted sender is ourselves or a stored
// contact. Inbound paths that carry no explicit whitelist use this gate, so a
// stranger's first message never reaches the store.
func (s *Service) isKnownSender(pubkey string) bool {
	if pubkey == s.keys.PublicKeyHex() {
		return true
	}
	_, err := s.store.GetContact(pubkey)
	return err == nil
}

// ingestResult reports what processGiftWrap did with one event.
type ingestResult struct {
	inserted     bool
	notification *Notification
}

// processGiftWrap runs the shared inbound pipeline for one gift-wrap event:
// recipient check, unwrap, duplicate and tombstone suppression, whitelist,
// size bound, control handling and finally idempotent insert. live marks the
// listener path, where non-control messages are subject to the rate limit.
// A nil whitelist admits only ourselves and stored contacts.
func (s *Service) processGiftWrap(ev *nostr.Event, whitelist map[string]bool, live bool) (ingestResult, error) {
	var res ingestResult

	if ev.Kind != nostr.KindGiftWrap || !ev.TaggedTo(s.keys.PublicKeyHex()) {
		return res, nil
	}

	deleted, err := s.store.IsEventDeleted(ev.ID)
	if err != nil {
		return res, err
	}
	if deleted {
		return res, nil
	}
	if _, err := s.store.GetMessage(ev.ID); err == nil {
		return res, nil
	}

	rumor, err := s.envelope.UnwrapPrivateMessage(ev, s.keys)
	if err != nil {
		// Undecryptable wraps are routine on shared relays; log and move on.
		s.log.Debug("failed to unwrap event", zap.String("id", ev.ID), zap.Error(err))
		return res, nil
	}

	admitted := whitelist[rumor.PubKey]
	if whitelist == nil {
		admitted = s.isKnownSender(rumor.PubKey)
	}
	if !admitted {
		s.log.Debug("dropping message from non-whitelisted sender",
			zap.String("sender", rumor.PubKey))
		return res, nil
	}

	if strings.TrimSpace(rumor.Content) == "" {
		return res, nil
	}
	if len(rumor.Content) > maxContentSize {
		s.log.Warn("dropping oversized message",
			zap.String("id", ev.ID), zap.Int("size", len(rumor.Content)))
		return res, nil
	}

	if cp, ok := parseControl(rumor.Content); ok {
		// Control traffic is ephemeral: handled, surfaced, never stored,
		// and never counted against the rate limit.
		res.notification = s.handleControl(rumor.PubKey, cp)
		return res, nil
	}

	if live && !s.limiter.Allow(rumor.PubKey) {
		s.log.Warn("rate limit exceeded, dropping message", zap.String("sender", rumor.PubKey))
		return res, ErrRateLimited
	}

	msgType, mediaURL := classifyContent(rumor.Content)
	record := &storage.MessageRecord{
		ID:          ev.ID,
		Sender:      rumor.PubKey,
		Receiver:    s.keys.PublicKeyHex(),
		Content:     rumor.Content,
		Timestamp:   rumor.CreatedAt,
		Status:      storage.MessageStatusDelivered,
		MessageType: msgType,
		MediaURL:    mediaURL,
	}

	inserted, err := s.store.SaveMessage(record)
	if err != nil {
		return res, err
	}
	if !inserted {
		return res, nil
	}

	if err := s.store.TouchContact(rumor.PubKey, rumor.CreatedAt); err != nil {
		s.log.Warn("failed to update contact activity", zap.Error(err))
	}

	res.inserted = true
	res.notification = &Notification{
		Type:    NotificationMessage,
		Peer:    rumor.PubKey,
		Message: record,
	}
	return res, nil
}

// handleControl applies a control payload's side effects and converts it to
// a notification.
func (s *Service) handleControl(sender string, cp *controlPayload) *Notification {
	switch cp.Type {
	case "read_receipt":
		if len(cp.MessageIDs) > 0 {
			if err := s.store.MarkMessagesRead(cp.MessageIDs); err != nil {
				s.log.Warn("failed to apply read receipt", zap.Error(err))
			}
		}
		return &Notification{
			Type:       NotificationReadReceipt,
			Peer:       sender,
			MessageIDs: cp.MessageIDs,
		}
	case "presence":
		return &Notification{
			Type:   NotificationPresence,
			Peer:   sender,
			Status: cp.Status,
		}
	default: // typing
		return &Notification{
			Type: NotificationTyping,
			Peer: sender,
		}
	}
}
