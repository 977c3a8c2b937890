package server

import (
	"sync"

	"seatwatch/pkg/seatwatch"
)

// MilestoneQueue buffers milestone events until the presentation layer consumes them.
// When full, the oldest event is dropped.
type MilestoneQueue struct {
	events []seatwatch.MilestoneEvent
	limit  int
	mu     sync.Mutex
}

// NewMilestoneQueue creates a queue holding at most limit events.
func NewMilestoneQueue(limit int) *MilestoneQueue {
	return &MilestoneQueue{limit: max(1, limit)}
}

// Push appends an event.
func (q *MilestoneQueue) Push(ev seatwatch.MilestoneEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) >= q.limit {
		q.events = q.events[1:]
	}
	q.events = append(q.events, ev)
}

// Drain returns and removes every pending event, oldest first.
func (q *MilestoneQueue) Drain() []seatwatch.MilestoneEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	if events == nil {
		return []seatwatch.MilestoneEvent{}
	}
	return events
}
