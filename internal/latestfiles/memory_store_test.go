package latestfiles

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreAdvancePointer(t *testing.T) {
	store := NewMemoryChannelStore()
	seedChannels(t, store, Channel{CollectionID: "c", ChannelID: "ch", Pattern: "."})

	if err := store.AdvancePointer(context.Background(), "c", "ch", "b.zip"); err != nil {
		t.Fatalf("first advance: %v", err)
	}
	if err := store.AdvancePointer(context.Background(), "c", "ch", "b.zip"); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("equal key should fail precondition, got %v", err)
	}
	if err := store.AdvancePointer(context.Background(), "c", "ch", "a.zip"); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("lesser key should fail precondition, got %v", err)
	}
	if err := store.AdvancePointer(context.Background(), "c", "ch", "c.zip"); err != nil {
		t.Fatalf("greater key should advance: %v", err)
	}
	if got := pointerOf(t, store, "c", "ch"); got != "c.zip" {
		t.Fatalf("pointer at %q", got)
	}
}

func TestMemoryStoreAdvanceUnknownChannel(t *testing.T) {
	store := NewMemoryChannelStore()
	if err := store.AdvancePointer(context.Background(), "c", "missing", "a.zip"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestMemoryStoreOrderingIsBytewise(t *testing.T) {
	store := NewMemoryChannelStore()
	seedChannels(t, store, Channel{CollectionID: "c", ChannelID: "ch", Pattern: "."})

	// "Z" < "a" bytewise; a case-insensitive comparison would get this
	// backwards.
	if err := store.AdvancePointer(context.Background(), "c", "ch", "a"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := store.AdvancePointer(context.Background(), "c", "ch", "Z"); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("bytewise lesser key should fail, got %v", err)
	}
}

func TestMemoryStorePutChannelPreservesPointer(t *testing.T) {
	store := NewMemoryChannelStore()
	seedChannels(t, store, Channel{CollectionID: "c", ChannelID: "ch", Pattern: `^a/`})
	if err := store.AdvancePointer(context.Background(), "c", "ch", "a/1.zip"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	seedChannels(t, store, Channel{CollectionID: "c", ChannelID: "ch", Pattern: `^b/`})
	channel, err := store.GetChannel(context.Background(), "c", "ch")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if channel.Pattern != `^b/` {
		t.Fatalf("pattern not updated: %q", channel.Pattern)
	}
	if channel.ObjectKey == nil || *channel.ObjectKey != "a/1.zip" {
		t.Fatalf("pointer lost on re-registration: %v", channel.ObjectKey)
	}
}

func TestMemoryStoreListChannelsPagination(t *testing.T) {
	store := NewMemoryChannelStore()
	seedChannels(t, store,
		Channel{CollectionID: "c", ChannelID: "a", Pattern: "."},
		Channel{CollectionID: "c", ChannelID: "b", Pattern: "."},
		Channel{CollectionID: "c", ChannelID: "d", Pattern: "."},
	)

	page, err := store.ListChannels(context.Background(), "c", "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ChannelID != "a" || page.Items[1].ChannelID != "b" {
		t.Fatalf("unexpected first page: %+v", page.Items)
	}
	if page.NextCursor == nil {
		t.Fatalf("expected a next cursor")
	}

	page, err = store.ListChannels(context.Background(), "c", *page.NextCursor, 2)
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ChannelID != "d" {
		t.Fatalf("unexpected second page: %+v", page.Items)
	}
	if page.NextCursor != nil {
		t.Fatalf("last page should have no cursor")
	}
}

func TestMemoryStoreUnknownCursor(t *testing.T) {
	store := NewMemoryChannelStore()
	seedChannels(t, store, Channel{CollectionID: "c", ChannelID: "a", Pattern: "."})
	if _, err := store.ListChannels(context.Background(), "c", "nope", 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown cursor, got %v", err)
	}
}

func TestMemoryStoreGetChannelNotFound(t *testing.T) {
	store := NewMemoryChannelStore()
	if _, err := store.GetChannel(context.Background(), "c", "missing"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestMemoryStoreEmptyCollectionLists(t *testing.T) {
	store := NewMemoryChannelStore()
	page, err := store.ListChannels(context.Background(), "empty", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 0 || page.NextCursor != nil {
		t.Fatalf("expected empty page, got %+v", page)
	}
}
