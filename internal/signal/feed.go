package signal

import (
	"sync"

	"github.com/control-tower/backend/internal/storage/models"
)

// Feed fans newly created signals out to websocket subscribers. Publishing
// never blocks: a subscriber that cannot keep up drops messages instead of
// stalling the writer.
type Feed struct {
	mu   sync.RWMutex
	subs map[chan models.Signal]struct{}
}

func NewFeed() *Feed {
	return &Feed{
		subs: make(map[chan models.Signal]struct{}),
	}
}

func (f *Feed) Subscribe() (<-chan models.Signal, func()) {
	ch := make(chan models.Signal, 64)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
		f.mu.Unlock()
	}

	return ch, cancel
}

func (f *Feed) Publish(signals ...models.Signal) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for ch := range f.subs {
		for _, s := range signals {
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
