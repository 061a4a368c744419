package nostr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Relay message types per the pub/sub wire protocol.
const (
	MsgEvent  = "EVENT"
	MsgOK     = "OK"
	MsgEOSE   = "EOSE"
	MsgNotice = "NOTICE"
	MsgClosed = "CLOSED"
)

var ErrMalformedMessage = errors.New("malformed relay message")

// RelayMessage is a decoded message received from a relay.
type RelayMessage struct {
	Type string

	// EVENT / EOSE / CLOSED
	SubID string
	Event *Event

	// OK
	EventID  string
	Accepted bool
	Reason   string

	// NOTICE / CLOSED
	Message string
}

// EncodeEventMessage frames an outbound ["EVENT", <event>].
func EncodeEventMessage(ev *Event) ([]byte, error) {
	return json.Marshal([]interface{}{"EVENT", ev})
}

// EncodeReqMessage frames ["REQ", <sub id>, <filter>...].
func EncodeReqMessage(subID string, filters []Filter) ([]byte, error) {
	parts := make([]interface{}, 0, len(filters)+2)
	parts = append(parts, "REQ", subID)
	for i := range filters {
		parts = append(parts, &filters[i])
	}
	return json.Marshal(parts)
}

// EncodeCloseMessage frames ["CLOSE", <sub id>].
func EncodeCloseMessage(subID string) ([]byte, error) {
	return json.Marshal([]interface{}{"CLOSE", subID})
}

// DecodeRelayMessage parses an inbound relay frame.
func DecodeRelayMessage(data []byte) (*RelayMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(parts) < 2 {
		return nil, ErrMalformedMessage
	}

	var typ string
	if err := json.Unmarshal(parts[0], &typ); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	msg := &RelayMessage{Type: typ}
	switch typ {
	case MsgEvent:
		if len(parts) < 3 {
			return nil, ErrMalformedMessage
		}
		if err := json.Unmarshal(parts[1], &msg.SubID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		msg.Event = &Event{}
		if err := json.Unmarshal(parts[2], msg.Event); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	case MsgOK:
		if len(parts) < 3 {
			return nil, ErrMalformedMessage
		}
		if err := json.Unmarshal(parts[1], &msg.EventID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if err := json.Unmarshal(parts[2], &msg.Accepted); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if len(parts) > 3 {
			_ = json.Unmarshal(parts[3], &msg.Reason)
		}
	case MsgEOSE:
		if err := json.Unmarshal(parts[1], &msg.SubID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	case MsgNotice:
		_ = json.Unmarshal(parts[1], &msg.Message)
	case MsgClosed:
		_ = json.Unmarshal(parts[1], &msg.SubID)
		if len(parts) > 2 {
			_ = json.Unmarshal(parts[2], &msg.Message)
		}
	default:
		// Unknown frame types are tolerated and surfaced as-is.
	}
	return msg, nil
}
