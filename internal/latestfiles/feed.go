package latestfiles

import "sync"

// UpdateFeed fans update reports out to subscribers. Delivery is best
// effort: a subscriber that cannot keep up loses reports rather than
// blocking the publisher.
type UpdateFeed struct {
	mu          sync.Mutex
	subscribers map[chan UpdateReport]struct{}
}

func NewUpdateFeed() *UpdateFeed {
	return &UpdateFeed{subscribers: map[chan UpdateReport]struct{}{}}
}

func (f *UpdateFeed) Subscribe(buffer int) (<-chan UpdateReport, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan UpdateReport, buffer)
	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subscribers, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (f *UpdateFeed) Publish(report UpdateReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- report:
		default:
		}
	}
}

func (f *UpdateFeed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}
