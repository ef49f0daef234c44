package latestfiles

import (
	"context"
	"time"
)

const announceTimeout = 15 * time.Second

// Tracker ties the pieces together: payloads are normalized, applied to
// the channel table, published to the update feed, and announced.
type Tracker struct {
	updater   *Updater
	feed      *UpdateFeed
	announcer Announcer
	logger    Logger
}

type TrackerOptions struct {
	Store ChannelStore
	// Announcer is optional. When nil no announcements are sent.
	Announcer Announcer
	Logger    Logger
}

func NewTracker(opts TrackerOptions) (*Tracker, error) {
	if opts.Store == nil {
		return nil, ErrInvalidInput
	}
	return &Tracker{
		updater:   NewUpdater(opts.Store),
		feed:      NewUpdateFeed(),
		announcer: opts.Announcer,
		logger:    opts.Logger,
	}, nil
}

// ProcessPayload normalizes a raw notification body and applies the
// resulting creation event.
func (t *Tracker) ProcessPayload(ctx context.Context, raw []byte) (UpdateReport, error) {
	event, err := NormalizePayload(raw)
	if err != nil {
		return UpdateReport{}, err
	}
	return t.ProcessEvent(ctx, event)
}

// ProcessEvent applies a creation event and announces it. The
// announcement runs in the background so delivery of the event is never
// held up by the webhook endpoint.
func (t *Tracker) ProcessEvent(ctx context.Context, event CreationEvent) (UpdateReport, error) {
	report, err := t.updater.Apply(ctx, event)
	if err != nil {
		return UpdateReport{}, err
	}
	t.feed.Publish(report)
	if t.announcer != nil {
		go t.announce(event)
	}
	return report, nil
}

// Seed applies a creation event without announcing it. Intended for
// backfills and operator-driven replays.
func (t *Tracker) Seed(ctx context.Context, event CreationEvent) (UpdateReport, error) {
	report, err := t.updater.Apply(ctx, event)
	if err != nil {
		return UpdateReport{}, err
	}
	t.feed.Publish(report)
	return report, nil
}

// HandleCreation adapts the tracker to sinks that only care about the
// event, not the report.
func (t *Tracker) HandleCreation(ctx context.Context, event CreationEvent) error {
	_, err := t.ProcessEvent(ctx, event)
	return err
}

func (t *Tracker) Subscribe(buffer int) (<-chan UpdateReport, func()) {
	return t.feed.Subscribe(buffer)
}

func (t *Tracker) announce(event CreationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	if err := t.announcer.Announce(ctx, event); err != nil && t.logger != nil {
		t.logger.Printf("announce failed for %s/%s: %v", event.CollectionID, event.ObjectKey, err)
	}
}
