package internal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"relaychat/internal/storage"
)

const filesPathPrefix = "/api/files/"

// Submit validates a message event from sender, appends it to the log and fans
// it out. Public messages go to every connection; private ones go to the
// recipient and the sender. An offline recipient still gets the message
// logged, and the returned error tells the sender it was not delivered.
func (h *Hub) Submit(ctx context.Context, sender *Client, in MessageInput) (*storage.Message, error) {
	hasText := strings.TrimSpace(in.Text) != ""
	if !hasText && in.Attachment == nil {
		return nil, ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(in.Text); n > h.opts.MaxMessageLength {
		return nil, fmt.Errorf("%w: %d characters, limit is %d", ErrMessageTooLong, n, h.opts.MaxMessageLength)
	}
	attachment, err := h.normalizeAttachment(in.Attachment)
	if err != nil {
		return nil, err
	}
	to := in.To
	if to != "" {
		if to == sender.username {
			return nil, ErrSelfMessage
		}
		if _, err := h.registry.ValidateName(to); err != nil {
			return nil, fmt.Errorf("%w: recipient: %v", ErrBadRequest, err)
		}
	}

	msg := &storage.Message{
		ID:         h.newID(),
		Username:   sender.username,
		Text:       in.Text,
		To:         to,
		Room:       RoomKey(sender.username, to),
		Timestamp:  h.clock.Stamp(),
		Attachment: attachment,
	}
	if err := h.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	h.metrics.IncMessage(msg.Private())
	frame := encodeEvent(EventMessage, msg)

	if !msg.Private() {
		h.deliver(frame, h.registry.Clients()...)
		return msg, nil
	}
	recipient, ok := h.registry.Lookup(to)
	if !ok {
		h.log.Info("private message recipient offline", "id", msg.ID, "username", sender.username, "to", to)
		return msg, fmt.Errorf("%w: %s", ErrRecipientOffline, to)
	}
	h.deliver(frame, recipient, sender)
	return msg, nil
}

// normalizeAttachment checks the attachment and fills in defaults. It
// returns a copy so the caller's value is never stored.
func (h *Hub) normalizeAttachment(in *storage.Attachment) (*storage.Attachment, error) {
	if in == nil {
		return nil, nil
	}
	a := *in
	a.Type = strings.ToLower(strings.TrimSpace(a.Type))
	if a.Type == "" && a.MimeType != "" {
		a.Type = attachmentCategory(a.MimeType)
	}
	switch a.Type {
	case "image", "file", "video":
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidAttachment, in.Type)
	}
	if strings.TrimSpace(a.Name) == "" {
		a.Name = "attachment"
	}
	switch {
	case a.Data != "":
		size := inlineSize(a.Data)
		if size > h.opts.MaxAttachmentBytes {
			return nil, fmt.Errorf("%w: inline data of %d bytes exceeds %d", ErrInvalidAttachment, size, h.opts.MaxAttachmentBytes)
		}
		if a.Size <= 0 {
			a.Size = size
		}
	case a.URL != "":
		if !validAttachmentURL(a.URL) {
			return nil, fmt.Errorf("%w: unsupported url", ErrInvalidAttachment)
		}
	default:
		return nil, fmt.Errorf("%w: needs url or data", ErrInvalidAttachment)
	}
	if a.Size > h.opts.MaxAttachmentBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidAttachment, a.Size, h.opts.MaxAttachmentBytes)
	}
	return &a, nil
}

// attachmentCategory maps a MIME type to image, video or file.
func attachmentCategory(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "file"
	}
}

// inlineSize estimates the decoded size of base64 data, with or without a
// data: URL prefix.
func inlineSize(data string) int64 {
	if strings.HasPrefix(data, "data:") {
		if i := strings.IndexByte(data, ','); i >= 0 {
			data = data[i+1:]
		}
	}
	data = strings.TrimRight(data, "=")
	return int64(len(data)) * 3 / 4
}

func validAttachmentURL(raw string) bool {
	if strings.HasPrefix(raw, filesPathPrefix) && len(raw) > len(filesPathPrefix) {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// JoinRoom makes target's private room (or the public room for an empty
// target) the client's active room and replies with its history.
func (h *Hub) JoinRoom(ctx context.Context, client *Client, target string) error {
	room := PublicRoom
	if target != "" {
		if target == client.username {
			return fmt.Errorf("%w: cannot open a private room with yourself", ErrBadRequest)
		}
		if _, err := h.registry.ValidateName(target); err != nil {
			return fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		room = RoomKey(client.username, target)
	}
	client.room = room
	return h.sendHistory(ctx, client, room)
}

func (h *Hub) sendHistory(ctx context.Context, client *Client, room string) error {
	messages, err := h.store.History(ctx, room, h.opts.HistoryLimit)
	if err != nil {
		return fmt.Errorf("load history %s: %w", room, err)
	}
	h.deliver(encodeEvent(EventPreviousMessages, historyPayload{Room: room, Messages: messages}), client)
	return nil
}
