package latestfiles

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestFileStore(t *testing.T) (*JSONFileChannelStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channels.json")
	store, err := NewJSONFileChannelStore(path)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	return store, path
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	store, path := newTestFileStore(t)
	seedChannels(t, store, Channel{CollectionID: "c", ChannelID: "ch", Pattern: `^a/`})
	if err := store.AdvancePointer(context.Background(), "c", "ch", "a/1.zip"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	reopened, err := NewJSONFileChannelStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	channel, err := reopened.GetChannel(context.Background(), "c", "ch")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if channel.Pattern != `^a/` || channel.ObjectKey == nil || *channel.ObjectKey != "a/1.zip" {
		t.Fatalf("state not persisted: %+v", channel)
	}
}

func TestFileStoreConditionedWrite(t *testing.T) {
	store, _ := newTestFileStore(t)
	seedChannels(t, store, Channel{CollectionID: "c", ChannelID: "ch", Pattern: "."})

	if err := store.AdvancePointer(context.Background(), "c", "ch", "b.zip"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := store.AdvancePointer(context.Background(), "c", "ch", "a.zip"); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("stale write should fail precondition, got %v", err)
	}
	if err := store.AdvancePointer(context.Background(), "c", "missing", "c.zip"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestFileStoreStartsEmptyWithoutFile(t *testing.T) {
	store, _ := newTestFileStore(t)
	page, err := store.ListChannels(context.Background(), "c", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected empty store, got %+v", page.Items)
	}
}

func TestFileStoreWorksWithUpdater(t *testing.T) {
	store, _ := newTestFileStore(t)
	seedChannels(t, store, Channel{CollectionID: "builds", ChannelID: "nightly", Pattern: `^nightly/`})
	updater := NewUpdater(store)

	report := mustApply(t, updater, "builds", "nightly/2.zip")
	if len(report.Channels) != 1 || report.Channels[0].Outcome != OutcomeUpdated {
		t.Fatalf("unexpected report: %+v", report.Channels)
	}
	report = mustApply(t, updater, "builds", "nightly/1.zip")
	if report.Channels[0].Outcome != OutcomeAlreadyCurrent {
		t.Fatalf("stale event should be already_current: %+v", report.Channels)
	}
}
