package latestfiles

import (
	"context"
	"errors"
)

var (
	ErrMalformedEvent      = errors.New("malformed event payload")
	ErrRegistrationInvalid = errors.New("invalid channel registration")
	ErrPreconditionFailed  = errors.New("pointer precondition failed")
	ErrChannelNotFound     = errors.New("channel not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotImplemented      = errors.New("not implemented")
)

// CreationEvent is one normalized object-creation notification. It is
// consumed synchronously and never persisted; redelivery is the
// transport's concern.
type CreationEvent struct {
	CollectionID string `json:"collectionId"`
	ObjectKey    string `json:"objectKey"`
}

// Registration is the projection of a channel row used by the updater:
// only the channel id and its pattern, never the stored pointer.
type Registration struct {
	ChannelID string `json:"channelId"`
	Pattern   string `json:"pattern"`
}

type RegistrationPage struct {
	Items      []Registration `json:"items"`
	NextCursor *string        `json:"nextCursor"`
}

// Channel is a full channel row. ObjectKey is nil until the first
// matching creation event has been applied.
type Channel struct {
	CollectionID string  `json:"collectionId"`
	ChannelID    string  `json:"channelId"`
	Pattern      string  `json:"pattern"`
	ObjectKey    *string `json:"objectKey"`
}

type ChannelPage struct {
	Items      []Channel `json:"items"`
	NextCursor *string   `json:"nextCursor"`
}

type Outcome string

const (
	OutcomeUpdated        Outcome = "updated"
	OutcomeAlreadyCurrent Outcome = "already_current"
)

type ChannelResult struct {
	ChannelID string  `json:"channelId"`
	Outcome   Outcome `json:"outcome"`
}

// UpdateReport summarizes one apply: every channel whose pattern matched
// the object key, with the outcome of its conditioned write. Channels
// that did not match are absent.
type UpdateReport struct {
	CollectionID string          `json:"collectionId"`
	ObjectKey    string          `json:"objectKey"`
	Channels     []ChannelResult `json:"channels"`
}

// ChannelStore holds channel registrations and their pointers. The only
// mutation discipline on pointers is AdvancePointer: set the pointer to
// objectKey iff no pointer exists or the stored pointer is bytewise less
// than objectKey, checked and applied atomically by the store. A stale
// write reports ErrPreconditionFailed.
type ChannelStore interface {
	QueryRegistrations(ctx context.Context, collectionID, cursor string) (RegistrationPage, error)
	AdvancePointer(ctx context.Context, collectionID, channelID, objectKey string) error
	PutChannel(ctx context.Context, channel Channel) error
	GetChannel(ctx context.Context, collectionID, channelID string) (Channel, error)
	ListChannels(ctx context.Context, collectionID, cursor string, limit int) (ChannelPage, error)
	Close() error
}

type Logger interface {
	Printf(format string, args ...any)
}
