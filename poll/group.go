package poll

import (
	"context"
	"fmt"

	"seatwatch/pkg/seatwatch"
)

// Group runs independent trackers side by side. Trackers share no state.
type Group struct {
	trackers []*Tracker
}

// NewGroup creates a group from trackers.
func NewGroup(trackers ...*Tracker) *Group {
	return &Group{trackers: trackers}
}

// StartAll starts every tracker. On failure the trackers already started are stopped.
func (g *Group) StartAll(ctx context.Context) error {
	for i, t := range g.trackers {
		if err := t.Start(ctx); err != nil {
			for _, started := range g.trackers[:i] {
				started.Stop()
			}
			return fmt.Errorf("start tracker %q: %w", t.Event().Name, err)
		}
	}
	return nil
}

// StopAll stops every tracker.
func (g *Group) StopAll() {
	for _, t := range g.trackers {
		t.Stop()
	}
}

// Snapshots returns the latest snapshot of each tracker that has one, in tracker order.
func (g *Group) Snapshots() []seatwatch.Snapshot {
	snaps := make([]seatwatch.Snapshot, 0, len(g.trackers))
	for _, t := range g.trackers {
		if snap, ok := t.Snapshot(); ok {
			snaps = append(snaps, snap)
		}
	}
	return snaps
}

// Events returns the events tracked by the group.
func (g *Group) Events() []seatwatch.Event {
	events := make([]seatwatch.Event, len(g.trackers))
	for i, t := range g.trackers {
		events[i] = t.Event()
	}
	return events
}
