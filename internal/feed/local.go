package feed

import (
	"context"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
)

const subscriberBuffer = 64

// Local fans events out to subscribers in the same process. Each subscriber
// has its own goroutine, so a slow handler only delays itself.
type Local struct {
	mu     sync.RWMutex
	subs   map[*localSubscription]struct{}
	closed bool
}

func NewLocal() *Local {
	return &Local{subs: make(map[*localSubscription]struct{})}
}

type localSubscription struct {
	broker  *Local
	filter  Filter
	events  chan Event
	done    chan struct{}
	stopped sync.Once
}

func (b *Local) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.events <- event:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			log.Warnf("feed: dropping %s event for slow subscriber", event.Collection)
		}
	}
	return nil
}

func (b *Local) Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error) {
	sub := &localSubscription{
		broker: b,
		filter: filter,
		events: make(chan Event, subscriberBuffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, context.Canceled
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case <-ctx.Done():
				sub.Stop()
				return
			case event := <-sub.events:
				handler(event)
			}
		}
	}()

	return sub, nil
}

func (s *localSubscription) Stop() {
	s.stopped.Do(func() {
		// close first so a publisher blocked on this subscriber lets go of
		// the read lock
		close(s.done)
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
}

func (b *Local) Close() error {
	b.mu.Lock()
	subs := make([]*localSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
	return nil
}
