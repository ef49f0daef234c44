package latestfiles

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingAnnouncer struct {
	mu     sync.Mutex
	events []CreationEvent
	done   chan struct{}
}

func newRecordingAnnouncer() *recordingAnnouncer {
	return &recordingAnnouncer{done: make(chan struct{}, 16)}
}

func (a *recordingAnnouncer) Announce(ctx context.Context, event CreationEvent) error {
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *recordingAnnouncer) wait(t *testing.T) CreationEvent {
	t.Helper()
	select {
	case <-a.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for announcement")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

func newTestTracker(t *testing.T, announcer Announcer) (*Tracker, *MemoryChannelStore) {
	t.Helper()
	store := NewMemoryChannelStore()
	tracker, err := NewTracker(TrackerOptions{Store: store, Announcer: announcer})
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	return tracker, store
}

func TestTrackerProcessPayload(t *testing.T) {
	tracker, store := newTestTracker(t, nil)
	seedChannels(t, store, Channel{CollectionID: "builds", ChannelID: "all", Pattern: `.`})

	report, err := tracker.ProcessPayload(context.Background(), directPayload("builds", "a.zip"))
	if err != nil {
		t.Fatalf("process payload: %v", err)
	}
	if len(report.Channels) != 1 || report.Channels[0].Outcome != OutcomeUpdated {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := pointerOf(t, store, "builds", "all"); got != "a.zip" {
		t.Fatalf("pointer at %q", got)
	}
}

func TestTrackerProcessPayloadMalformed(t *testing.T) {
	tracker, _ := newTestTracker(t, nil)
	if _, err := tracker.ProcessPayload(context.Background(), []byte(`{}`)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
}

func TestTrackerProcessEventAnnounces(t *testing.T) {
	announcer := newRecordingAnnouncer()
	tracker, store := newTestTracker(t, announcer)
	seedChannels(t, store, Channel{CollectionID: "builds", ChannelID: "all", Pattern: `.`})

	if _, err := tracker.ProcessEvent(context.Background(), CreationEvent{CollectionID: "builds", ObjectKey: "a.zip"}); err != nil {
		t.Fatalf("process event: %v", err)
	}
	announced := announcer.wait(t)
	if announced.CollectionID != "builds" || announced.ObjectKey != "a.zip" {
		t.Fatalf("unexpected announcement: %+v", announced)
	}
}

func TestTrackerSeedDoesNotAnnounce(t *testing.T) {
	announcer := newRecordingAnnouncer()
	tracker, store := newTestTracker(t, announcer)
	seedChannels(t, store, Channel{CollectionID: "builds", ChannelID: "all", Pattern: `.`})

	if _, err := tracker.Seed(context.Background(), CreationEvent{CollectionID: "builds", ObjectKey: "a.zip"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	select {
	case <-announcer.done:
		t.Fatalf("seed must not announce")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTrackerSubscribeReceivesReports(t *testing.T) {
	tracker, store := newTestTracker(t, nil)
	seedChannels(t, store, Channel{CollectionID: "builds", ChannelID: "all", Pattern: `.`})

	reports, cancel := tracker.Subscribe(4)
	defer cancel()

	if _, err := tracker.ProcessEvent(context.Background(), CreationEvent{CollectionID: "builds", ObjectKey: "a.zip"}); err != nil {
		t.Fatalf("process event: %v", err)
	}
	select {
	case report := <-reports:
		if report.ObjectKey != "a.zip" {
			t.Fatalf("unexpected report: %+v", report)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no report published")
	}
}

func TestTrackerHandleCreation(t *testing.T) {
	tracker, store := newTestTracker(t, nil)
	seedChannels(t, store, Channel{CollectionID: "builds", ChannelID: "all", Pattern: `.`})

	if err := tracker.HandleCreation(context.Background(), CreationEvent{CollectionID: "builds", ObjectKey: "a.zip"}); err != nil {
		t.Fatalf("handle creation: %v", err)
	}
	if got := pointerOf(t, store, "builds", "all"); got != "a.zip" {
		t.Fatalf("pointer at %q", got)
	}
}

func TestUpdateFeedDropsSlowSubscribers(t *testing.T) {
	feed := NewUpdateFeed()
	reports, cancel := feed.Subscribe(1)
	defer cancel()

	feed.Publish(UpdateReport{ObjectKey: "first"})
	feed.Publish(UpdateReport{ObjectKey: "dropped"})

	report := <-reports
	if report.ObjectKey != "first" {
		t.Fatalf("unexpected report: %+v", report)
	}
	select {
	case extra := <-reports:
		t.Fatalf("overflow report should have been dropped: %+v", extra)
	default:
	}
}

func TestUpdateFeedCancelRemovesSubscriber(t *testing.T) {
	feed := NewUpdateFeed()
	_, cancel := feed.Subscribe(1)
	if feed.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	cancel()
	if feed.SubscriberCount() != 0 {
		t.Fatalf("cancel did not remove subscriber")
	}
	feed.Publish(UpdateReport{ObjectKey: "after-cancel"})
}
