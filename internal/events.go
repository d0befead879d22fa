package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"relaychat/internal/storage"
)

// Event names on the wire.
const (
	EventMessage          = "message"
	EventReaction         = "reaction"
	EventMessageReaction  = "messageReaction"
	EventGetOnlineUsers   = "getOnlineUsers"
	EventActivity         = "activity"
	EventJoinRoom         = "joinRoom"
	EventOnlineUsers      = "onlineUsers"
	EventUserJoined       = "userJoined"
	EventUserLeft         = "userLeft"
	EventPreviousMessages = "previousMessages"
	EventError            = "error"
)

// Envelope is the frame exchanged in both directions: an event name plus its
// payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// InboundEvent is one decoded client event. The concrete types are
// MessageInput, ReactionInput, JoinRoomInput, OnlineUsersRequest and
// ActivityPing.
type InboundEvent interface {
	EventName() string
}

// MessageInput is a validated-shape "message" event.
type MessageInput struct {
	Text       string
	To         string
	Attachment *storage.Attachment
}

func (MessageInput) EventName() string { return EventMessage }

// ReactionMode selects how a reaction is applied.
type ReactionMode string

const (
	ReactionAdd    ReactionMode = "add"
	ReactionRemove ReactionMode = "remove"
	ReactionToggle ReactionMode = "toggle"
)

// ReactionInput is a "reaction" or "messageReaction" event.
type ReactionInput struct {
	MessageID string
	Emoji     string
	Mode      ReactionMode
}

func (ReactionInput) EventName() string { return EventReaction }

// JoinRoomInput switches the client to the public room (empty Target) or to
// the private room it shares with Target.
type JoinRoomInput struct {
	Target string
}

func (JoinRoomInput) EventName() string { return EventJoinRoom }

// OnlineUsersRequest asks for the presence snapshot.
type OnlineUsersRequest struct{}

func (OnlineUsersRequest) EventName() string { return EventGetOnlineUsers }

// ActivityPing only refreshes the sender's last-activity time.
type ActivityPing struct{}

func (ActivityPing) EventName() string { return EventActivity }

type messagePayload struct {
	Text       *string             `json:"text"`
	Content    *string             `json:"content"`
	To         string              `json:"to"`
	Attachment *storage.Attachment `json:"attachment"`
}

type reactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	Type      string `json:"type"`
	Remove    *bool  `json:"remove"`
}

type joinRoomPayload struct {
	TargetUsername string `json:"targetUsername"`
}

// DecodeInbound parses a client frame into one of the inbound event types.
// Every failure wraps ErrBadRequest.
func DecodeInbound(frame []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	switch env.Event {
	case EventMessage:
		var p messagePayload
		if err := decodePayload(env.Data, &p, true); err != nil {
			return nil, err
		}
		in := MessageInput{To: strings.TrimSpace(p.To), Attachment: p.Attachment}
		switch {
		case p.Text != nil:
			in.Text = *p.Text
		case p.Content != nil:
			in.Text = *p.Content
		}
		return in, nil
	case EventReaction, EventMessageReaction:
		var p reactionPayload
		if err := decodePayload(env.Data, &p, true); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.MessageID) == "" || strings.TrimSpace(p.Emoji) == "" {
			return nil, fmt.Errorf("%w: messageId and emoji are required", ErrBadRequest)
		}
		mode, err := reactionMode(p)
		if err != nil {
			return nil, err
		}
		return ReactionInput{MessageID: strings.TrimSpace(p.MessageID), Emoji: strings.TrimSpace(p.Emoji), Mode: mode}, nil
	case EventJoinRoom:
		var p joinRoomPayload
		if err := decodePayload(env.Data, &p, false); err != nil {
			return nil, err
		}
		return JoinRoomInput{Target: strings.TrimSpace(p.TargetUsername)}, nil
	case EventGetOnlineUsers:
		return OnlineUsersRequest{}, nil
	case EventActivity:
		return ActivityPing{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing event name", ErrBadRequest)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrBadRequest, env.Event)
	}
}

func decodePayload(data json.RawMessage, out any, required bool) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if required {
			return fmt.Errorf("%w: missing payload", ErrBadRequest)
		}
		return nil
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("%w: payload must be an object", ErrBadRequest)
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func reactionMode(p reactionPayload) (ReactionMode, error) {
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "add":
		return ReactionAdd, nil
	case "remove":
		return ReactionRemove, nil
	case "toggle":
		return ReactionToggle, nil
	case "":
	default:
		return "", fmt.Errorf("%w: unknown reaction type %q", ErrBadRequest, p.Type)
	}
	if p.Remove != nil {
		if *p.Remove {
			return ReactionRemove, nil
		}
		return ReactionAdd, nil
	}
	return ReactionToggle, nil
}

type userPayload struct {
	Username string `json:"username"`
}

type historyPayload struct {
	Room     string            `json:"room"`
	Messages []storage.Message `json:"messages"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReactionUpdate is the outbound messageReaction payload: the change that was
// applied plus the full reaction map after it.
type ReactionUpdate struct {
	MessageID string            `json:"messageId"`
	Emoji     string            `json:"emoji"`
	Username  string            `json:"username"`
	Type      ReactionMode      `json:"type"`
	Remove    bool              `json:"remove"`
	Changed   bool              `json:"changed"`
	Reactions storage.Reactions `json:"reactions"`
}

// encodeEvent builds an outbound frame. Payloads are plain structs, maps and
// slices, so marshalling cannot fail in practice.
func encodeEvent(name string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("null")
	}
	frame, _ := json.Marshal(Envelope{Event: name, Data: raw})
	return frame
}

func encodeError(err error) []byte {
	return encodeEvent(EventError, errorPayload{Code: errorCode(err), Message: err.Error()})
}
