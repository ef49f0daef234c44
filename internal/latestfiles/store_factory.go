package latestfiles

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type ChannelStoreFactory func(dsn string) (ChannelStore, error)

var storeFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]ChannelStoreFactory
}{
	factories: map[string]ChannelStoreFactory{},
}

// RegisterChannelStoreFactory installs a factory for a DSN scheme,
// overriding the built-in handling for that scheme.
func RegisterChannelStoreFactory(scheme string, factory ChannelStoreFactory) {
	scheme = normalizeStoreScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.factories[scheme] = factory
}

func lookupChannelStoreFactory(scheme string) (ChannelStoreFactory, bool) {
	scheme = normalizeStoreScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.factories[scheme]
	return factory, ok
}

func BuildChannelStoreFromDSN(dsn string) (ChannelStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeStoreScheme(parsed.Scheme)
	if factory, ok := lookupChannelStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileChannelStore(path)
	case "memory", "mem", "inmem":
		return NewMemoryChannelStore(), nil
	case "postgres", "postgresql":
		return NewPostgresChannelStore(dsn)
	case "mysql", "sqlite", "dynamodb":
		return nil, fmt.Errorf("%w: channel store %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported channel store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

func normalizeStoreScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
