package latestfiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// JSONFileChannelStore keeps the channel table in a single JSON file for
// durable local use. Conditioned writes are serialized by an in-process
// mutex; the snapshot is rewritten atomically after each mutation.
type JSONFileChannelStore struct {
	mu       sync.Mutex
	path     string
	pageSize int
	loaded   bool
	snapshot fileStoreSnapshot
}

type fileStoreSnapshot struct {
	Collections map[string]map[string]fileChannelRow `json:"collections"`
}

type fileChannelRow struct {
	Pattern   string  `json:"pattern"`
	ObjectKey *string `json:"objectKey,omitempty"`
}

func NewJSONFileChannelStore(path string) (*JSONFileChannelStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &JSONFileChannelStore{path: path, pageSize: defaultQueryPageSize}, nil
}

func (s *JSONFileChannelStore) QueryRegistrations(ctx context.Context, collectionID, cursor string) (RegistrationPage, error) {
	if collectionID == "" {
		return RegistrationPage{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return RegistrationPage{}, err
	}

	ids, next, err := s.pageChannelIDsLocked(collectionID, cursor, s.pageSize)
	if err != nil {
		return RegistrationPage{}, err
	}
	items := make([]Registration, 0, len(ids))
	for _, channelID := range ids {
		row := s.snapshot.Collections[collectionID][channelID]
		items = append(items, Registration{ChannelID: channelID, Pattern: row.Pattern})
	}
	return RegistrationPage{Items: items, NextCursor: next}, nil
}

func (s *JSONFileChannelStore) AdvancePointer(ctx context.Context, collectionID, channelID, objectKey string) error {
	if collectionID == "" || channelID == "" || objectKey == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}

	row, ok := s.snapshot.Collections[collectionID][channelID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrChannelNotFound, collectionID, channelID)
	}
	if row.ObjectKey != nil && *row.ObjectKey >= objectKey {
		return ErrPreconditionFailed
	}
	key := objectKey
	row.ObjectKey = &key
	s.snapshot.Collections[collectionID][channelID] = row
	return s.persistLocked()
}

func (s *JSONFileChannelStore) PutChannel(ctx context.Context, channel Channel) error {
	if channel.CollectionID == "" || channel.ChannelID == "" || channel.Pattern == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}

	collection, ok := s.snapshot.Collections[channel.CollectionID]
	if !ok {
		collection = map[string]fileChannelRow{}
		s.snapshot.Collections[channel.CollectionID] = collection
	}
	row := collection[channel.ChannelID]
	row.Pattern = channel.Pattern
	collection[channel.ChannelID] = row
	return s.persistLocked()
}

func (s *JSONFileChannelStore) GetChannel(ctx context.Context, collectionID, channelID string) (Channel, error) {
	if collectionID == "" || channelID == "" {
		return Channel{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return Channel{}, err
	}

	row, ok := s.snapshot.Collections[collectionID][channelID]
	if !ok {
		return Channel{}, fmt.Errorf("%w: %s/%s", ErrChannelNotFound, collectionID, channelID)
	}
	return channelFromRowLocked(collectionID, channelID, row), nil
}

func (s *JSONFileChannelStore) ListChannels(ctx context.Context, collectionID, cursor string, limit int) (ChannelPage, error) {
	if collectionID == "" {
		return ChannelPage{}, ErrInvalidInput
	}
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return ChannelPage{}, err
	}

	ids, next, err := s.pageChannelIDsLocked(collectionID, cursor, limit)
	if err != nil {
		return ChannelPage{}, err
	}
	items := make([]Channel, 0, len(ids))
	for _, channelID := range ids {
		items = append(items, channelFromRowLocked(collectionID, channelID, s.snapshot.Collections[collectionID][channelID]))
	}
	return ChannelPage{Items: items, NextCursor: next}, nil
}

func (s *JSONFileChannelStore) Close() error {
	return nil
}

func (s *JSONFileChannelStore) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.snapshot = fileStoreSnapshot{Collections: map[string]map[string]fileChannelRow{}}
			s.loaded = true
			return nil
		}
		return err
	}
	var snapshot fileStoreSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if snapshot.Collections == nil {
		snapshot.Collections = map[string]map[string]fileChannelRow{}
	}
	s.snapshot = snapshot
	s.loaded = true
	return nil
}

func (s *JSONFileChannelStore) persistLocked() error {
	data, err := json.Marshal(s.snapshot)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *JSONFileChannelStore) pageChannelIDsLocked(collectionID, cursor string, limit int) ([]string, *string, error) {
	collection := s.snapshot.Collections[collectionID]
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
			return nil, nil, fmt.Errorf("%w: unknown cursor", ErrInvalidInput)
		}
	}
	end := start + limit
	if end > len(channelIDs) {
		end = len(channelIDs)
	}
	var next *string
	if end < len(channelIDs) && end > start {
		last := channelIDs[end-1]
		next = &last
	}
	return channelIDs[start:end], next, nil
}

func channelFromRowLocked(collectionID, channelID string, row fileChannelRow) Channel {
	channel := Channel{
		CollectionID: collectionID,
		ChannelID:    channelID,
		Pattern:      row.Pattern,
	}
	if row.ObjectKey != nil {
		key := *row.ObjectKey
		channel.ObjectKey = &key
	}
	return channel
}
