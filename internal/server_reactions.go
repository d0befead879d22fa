package internal

import (
	"context"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"relaychat/internal/storage"
)

// maxEmojiBytes leaves room for ZWJ sequences and tag-sequence flags, which
// run past 25 bytes.
const maxEmojiBytes = 64

// React applies an add, remove or toggle to the reactor's (emoji, name) pair
// on a message and republishes the message's reaction map to the audience the
// message was delivered to. No-ops are republished too.
func (h *Hub) React(ctx context.Context, reactor *Client, in ReactionInput) (*ReactionUpdate, error) {
	if err := validateEmoji(in.Emoji); err != nil {
		return nil, err
	}
	msg, err := h.store.GetMessage(ctx, in.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, in.MessageID)
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	// private messages are invisible to everyone but their two participants
	if msg.Private() && reactor.username != msg.Username && reactor.username != msg.To {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, in.MessageID)
	}

	mode := in.Mode
	if mode == "" || mode == ReactionToggle {
		present, err := h.store.HasReaction(ctx, msg.ID, in.Emoji, reactor.username)
		if err != nil {
			return nil, fmt.Errorf("check reaction: %w", err)
		}
		mode = ReactionAdd
		if present {
			mode = ReactionRemove
		}
	}

	var changed bool
	switch mode {
	case ReactionAdd:
		changed, err = h.store.AddReaction(ctx, msg.ID, in.Emoji, reactor.username)
	case ReactionRemove:
		changed, err = h.store.RemoveReaction(ctx, msg.ID, in.Emoji, reactor.username)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidReaction, mode)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, in.MessageID)
	}
	if err != nil {
		return nil, fmt.Errorf("apply reaction: %w", err)
	}
	reactions, err := h.store.Reactions(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}

	update := &ReactionUpdate{
		MessageID: msg.ID,
		Emoji:     in.Emoji,
		Username:  reactor.username,
		Type:      mode,
		Remove:    mode == ReactionRemove,
		Changed:   changed,
		Reactions: reactions,
	}
	h.metrics.IncReaction(mode)
	h.deliver(encodeEvent(EventMessageReaction, update), h.audience(msg)...)
	return update, nil
}

// audience resolves who can currently see msg: everyone for public messages,
// the live participants for private ones.
func (h *Hub) audience(msg *storage.Message) []*Client {
	if !msg.Private() {
		return h.registry.Clients()
	}
	var clients []*Client
	for _, name := range []string{msg.Username, msg.To} {
		if client, ok := h.registry.Lookup(name); ok {
			clients = append(clients, client)
		}
	}
	return clients
}

func validateEmoji(emoji string) error {
	if emoji == "" || len(emoji) > maxEmojiBytes || !utf8.ValidString(emoji) {
		return fmt.Errorf("%w: emoji must be 1 to %d bytes of UTF-8", ErrInvalidReaction, maxEmojiBytes)
	}
	for _, r := range emoji {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: emoji must not contain spaces or control characters", ErrInvalidReaction)
		}
	}
	return nil
}
