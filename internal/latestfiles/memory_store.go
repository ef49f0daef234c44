package latestfiles

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

const defaultQueryPageSize = 100

type MemoryChannelStoreOptions struct {
	// PageSize bounds QueryRegistrations and ListChannels pages. The
	// updater must behave identically whatever this is set to.
	PageSize int
}

type MemoryChannelStore struct {
	mu          sync.Mutex
	pageSize    int
	collections map[string]map[string]*channelRecord
}

type channelRecord struct {
	pattern   string
	objectKey *string
}

func NewMemoryChannelStore() *MemoryChannelStore {
	return NewMemoryChannelStoreWithOptions(MemoryChannelStoreOptions{})
}

func NewMemoryChannelStoreWithOptions(opts MemoryChannelStoreOptions) *MemoryChannelStore {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultQueryPageSize
	}
	return &MemoryChannelStore{
		pageSize:    pageSize,
		collections: map[string]map[string]*channelRecord{},
	}
}

func (s *MemoryChannelStore) QueryRegistrations(ctx context.Context, collectionID, cursor string) (RegistrationPage, error) {
	if collectionID == "" {
		return RegistrationPage{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	channelIDs, err := s.pageChannelIDsLocked(collectionID, cursor, s.pageSize)
	if err != nil {
		return RegistrationPage{}, err
	}
	items := make([]Registration, 0, len(channelIDs.ids))
	for _, channelID := range channelIDs.ids {
		record := s.collections[collectionID][channelID]
		items = append(items, Registration{ChannelID: channelID, Pattern: record.pattern})
	}
	return RegistrationPage{Items: items, NextCursor: channelIDs.next}, nil
}

func (s *MemoryChannelStore) AdvancePointer(ctx context.Context, collectionID, channelID, objectKey string) error {
	if collectionID == "" || channelID == "" || objectKey == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.collections[collectionID][channelID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrChannelNotFound, collectionID, channelID)
	}
	if record.objectKey != nil && *record.objectKey >= objectKey {
		return ErrPreconditionFailed
	}
	key := objectKey
	record.objectKey = &key
	return nil
}

func (s *MemoryChannelStore) PutChannel(ctx context.Context, channel Channel) error {
	if channel.CollectionID == "" || channel.ChannelID == "" || channel.Pattern == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	collection, ok := s.collections[channel.CollectionID]
	if !ok {
		collection = map[string]*channelRecord{}
		s.collections[channel.CollectionID] = collection
	}
	if existing, exists := collection[channel.ChannelID]; exists {
		existing.pattern = channel.Pattern
		return nil
	}
	collection[channel.ChannelID] = &channelRecord{pattern: channel.Pattern}
	return nil
}

func (s *MemoryChannelStore) GetChannel(ctx context.Context, collectionID, channelID string) (Channel, error) {
	if collectionID == "" || channelID == "" {
		return Channel{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.collections[collectionID][channelID]
	if !ok {
		return Channel{}, fmt.Errorf("%w: %s/%s", ErrChannelNotFound, collectionID, channelID)
	}
	return channelFromRecordLocked(collectionID, channelID, record), nil
}

func (s *MemoryChannelStore) ListChannels(ctx context.Context, collectionID, cursor string, limit int) (ChannelPage, error) {
	if collectionID == "" {
		return ChannelPage{}, ErrInvalidInput
	}
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	channelIDs, err := s.pageChannelIDsLocked(collectionID, cursor, limit)
	if err != nil {
		return ChannelPage{}, err
	}
	items := make([]Channel, 0, len(channelIDs.ids))
	for _, channelID := range channelIDs.ids {
		items = append(items, channelFromRecordLocked(collectionID, channelID, s.collections[collectionID][channelID]))
	}
	return ChannelPage{Items: items, NextCursor: channelIDs.next}, nil
}

func (s *MemoryChannelStore) Close() error {
	return nil
}

type channelIDPage struct {
	ids  []string
	next *string
}

func (s *MemoryChannelStore) pageChannelIDsLocked(collectionID, cursor string, limit int) (channelIDPage, error) {
	collection := s.collections[collectionID]
	channelIDs := make([]string, 0, len(collection))
	for channelID := range collection {
		channelIDs = append(channelIDs, channelID)
	}
	sort.Strings(channelIDs)

	start := 0
	if cursor != "" {
		found := false
		for i, channelID := range channelIDs {
			if channelID == cursor {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return channelIDPage{}, fmt.Errorf("%w: unknown cursor", ErrInvalidInput)
		}
	}
	end := start + limit
	if end > len(channelIDs) {
		end = len(channelIDs)
	}
	page := channelIDPage{ids: channelIDs[start:end]}
	if end < len(channelIDs) && end > start {
		next := channelIDs[end-1]
		page.next = &next
	}
	return page, nil
}

func channelFromRecordLocked(collectionID, channelID string, record *channelRecord) Channel {
	channel := Channel{
		CollectionID: collectionID,
		ChannelID:    channelID,
		Pattern:      record.pattern,
	}
	if record.objectKey != nil {
		key := *record.objectKey
		channel.ObjectKey = &key
	}
	return channel
}
