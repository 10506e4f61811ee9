// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ws

import (
	"sync"

	"grimm.is/bindctl/internal/events"
)

// sendQueue is the per-session outbound buffer. It is bounded for ordinary
// traffic but never drops critical frames: when full it evicts the oldest
// low-priority frame first, then the oldest ordinary one, and only refuses
// the incoming frame when everything queued is critical and the newcomer is
// not.
type sendQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []queued
	max     int
	dropped int64
	closed  bool
}

type queued struct {
	frame Frame
	typ   events.Type
}

func newSendQueue(max int) *sendQueue {
	q := &sendQueue{max: max}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a frame, applying the drop policy. It returns the total
// number of frames this queue has dropped so far.
func (q *sendQueue) push(f Frame, typ events.Type) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return q.dropped
	}

	if len(q.items) >= q.max {
		if !q.evict() {
			// Everything queued is critical. A critical newcomer grows the
			// queue past its bound rather than getting lost.
			if !typ.Critical() {
				q.dropped++
				return q.dropped
			}
		}
	}
	q.items = append(q.items, queued{frame: f, typ: typ})
	q.cond.Signal()
	return q.dropped
}

// evict removes the best victim under the priority policy. Caller holds the
// lock. Returns false when every queued frame is critical.
func (q *sendQueue) evict() bool {
	victim := -1
	for i, it := range q.items {
		if it.typ.LowPriority() {
			victim = i
			break
		}
	}
	if victim < 0 {
		for i, it := range q.items {
			if !it.typ.Critical() {
				victim = i
				break
			}
		}
	}
	if victim < 0 {
		return false
	}
	q.items = append(q.items[:victim], q.items[victim+1:]...)
	q.dropped++
	return true
}

// pop blocks until a frame is available or the queue is closed.
func (q *sendQueue) pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Frame{}, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it.frame, true
}

func (q *sendQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *sendQueue) droppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *sendQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
