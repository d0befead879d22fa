package internal

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// PublicRoom is the room key of messages without a recipient.
const PublicRoom = "public"

// roomSeparator joins the two participants of a private room. Display names
// may not contain it, so two different pairs never share a key.
const roomSeparator = "|"

var (
	ErrInvalidName       = errors.New("invalid display name")
	ErrNameTaken         = errors.New("display name already in use")
	ErrBadRequest        = errors.New("malformed event")
	ErrEmptyMessage      = errors.New("message needs text or an attachment")
	ErrMessageTooLong    = errors.New("message text too long")
	ErrInvalidAttachment = errors.New("invalid attachment")
	ErrSelfMessage       = errors.New("cannot send a private message to yourself")
	ErrRecipientOffline  = errors.New("recipient is not online")
	ErrMessageNotFound   = errors.New("message not found")
	ErrInvalidReaction   = errors.New("invalid reaction")
	ErrRateLimited       = errors.New("too many events, slow down")
	errHubClosed         = errors.New("hub is shutting down")
	errInternal          = errors.New("internal error")
)

// errorCode maps an error to the code carried by the outbound error event.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, ErrNameTaken):
		return "name_taken"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, ErrMessageTooLong):
		return "message_too_long"
	case errors.Is(err, ErrInvalidAttachment):
		return "invalid_attachment"
	case errors.Is(err, ErrSelfMessage):
		return "self_message"
	case errors.Is(err, ErrRecipientOffline):
		return "recipient_offline"
	case errors.Is(err, ErrMessageNotFound):
		return "message_not_found"
	case errors.Is(err, ErrInvalidReaction):
		return "invalid_reaction"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}

// RoomKey returns the room shared by two participants. An empty peer means the
// public room. The result does not depend on argument order.
func RoomKey(a, b string) string {
	if a == "" || b == "" {
		return PublicRoom
	}
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, roomSeparator)
}

// Options tunes a Hub. Zero values are replaced by DefaultOptions.
type Options struct {
	Policy              NamePolicy
	MaxNameLength       int
	IdleTimeout         time.Duration
	MaxMessageLength    int
	MaxAttachmentBytes  int64
	HistoryLimit        int
	MessagesPerSecond   float64
	MessageBurst        int
	HandshakesPerSecond float64
	HandshakeBurst      int
	AllowedOrigins      []string
	Logger              *slog.Logger
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Policy:              PolicyTakeover,
		MaxNameLength:       32,
		MaxMessageLength:    4000,
		MaxAttachmentBytes:  5 * 1024 * 1024,
		HistoryLimit:        100,
		MessagesPerSecond:   5,
		MessageBurst:        10,
		HandshakesPerSecond: 2,
		HandshakeBurst:      5,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Policy == "" {
		o.Policy = def.Policy
	}
	if o.MaxNameLength <= 0 {
		o.MaxNameLength = def.MaxNameLength
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = def.MaxMessageLength
	}
	if o.MaxAttachmentBytes <= 0 {
		o.MaxAttachmentBytes = def.MaxAttachmentBytes
	}
	if o.HistoryLimit == 0 {
		o.HistoryLimit = def.HistoryLimit
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = def.MessageBurst
	}
	if o.HandshakeBurst <= 0 {
		o.HandshakeBurst = def.HandshakeBurst
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// readLimit is the largest inbound frame accepted. Inline attachments are
// base64 encoded, so the limit leaves room for the 4/3 expansion.
func (o Options) readLimit() int64 {
	limit := o.MaxAttachmentBytes/3*4 + int64(o.MaxMessageLength)*4 + 16*1024
	if limit < 64*1024 {
		limit = 64 * 1024
	}
	return limit
}

// clock hands out millisecond timestamps that strictly increase within the
// process, even if the wall clock stalls or steps back.
type clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func newClock(now func() time.Time) *clock {
	if now == nil {
		now = time.Now
	}
	return &clock{now: now}
}

func (c *clock) Now() time.Time {
	return c.now()
}

func (c *clock) Stamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}
