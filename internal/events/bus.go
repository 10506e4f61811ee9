// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package events

import (
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/bindctl/internal/logging"
)

// Subscription is one consumer's view of the bus. Events arrive on Events()
// in publish order per topic; a full channel drops the event and bumps the
// counter.
type Subscription struct {
	name    string
	ch      chan Event
	types   map[Type]bool // nil means all topics
	dropped atomic.Int64
}

func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped returns how many events this subscriber has lost.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) wants(t Type) bool {
	return s.types == nil || s.types[t]
}

// Bus fans events out to subscribers without ever blocking a publisher.
type Bus struct {
	logger *logging.Logger

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		logger: logger.WithComponent("events"),
		subs:   map[*Subscription]struct{}{},
	}
}

// Subscribe registers a consumer. An empty types list subscribes to every
// topic. The buffer bounds how far the consumer may fall behind before
// losing events.
func (b *Bus) Subscribe(name string, buffer int, types ...Type) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{name: name, ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe detaches the consumer and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish delivers to all matching subscribers. Non-blocking: subscribers
// that cannot keep up lose this event.
func (b *Bus) Publish(t Type, data map[string]any) {
	ev := Event{Type: t, Data: data, TS: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.wants(t) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			n := sub.dropped.Add(1)
			if n%100 == 1 {
				b.logger.Warn("subscriber falling behind, dropping events",
					"subscriber", sub.name, "dropped", n)
			}
		}
	}
}
