// Package poll tracks live seat availability for events by polling their seat endpoints.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"seatwatch/pkg/seatwatch"
)

// DefaultInterval is the fixed cadence between seat polls.
const DefaultInterval = 10 * time.Second

// ErrAlreadyRunning is returned when Start is called on a running tracker.
var ErrAlreadyRunning = errors.New("tracker already running")

// MilestoneHandler receives milestone crossings. Each event is delivered once.
type MilestoneHandler func(seatwatch.MilestoneEvent)

// UpdateHandler receives every snapshot that was applied.
type UpdateHandler func(seatwatch.Snapshot)

// FailureHandler receives poll failures after they have been logged.
type FailureHandler func(event string, err error)

// Option configures a Tracker.
type Option func(*Tracker)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithMilestoneHandler registers a milestone observer.
func WithMilestoneHandler(h MilestoneHandler) Option {
	return func(t *Tracker) { t.onMilestone = h }
}

// WithUpdateHandler registers a snapshot observer.
func WithUpdateHandler(h UpdateHandler) Option {
	return func(t *Tracker) { t.onUpdate = h }
}

// WithFailureHandler registers a poll failure observer.
func WithFailureHandler(h FailureHandler) Option {
	return func(t *Tracker) { t.onFailure = h }
}

// Tracker maintains the current snapshot for one event.
type Tracker struct {
	client      *http.Client
	logger      *slog.Logger
	onMilestone MilestoneHandler
	onUpdate    UpdateHandler
	onFailure   FailureHandler
	cancel      context.CancelFunc
	done        chan struct{}
	event       seatwatch.Event
	snapshot    seatwatch.Snapshot
	inflight    sync.WaitGroup
	interval    time.Duration
	nextSeq     uint64
	appliedSeq  uint64 // Sequence of the poll that produced snapshot
	mu          sync.Mutex
	running     bool
	primed      bool // A poll has been applied since the last Start
	hasSnapshot bool
}

// New creates a tracker for one event.
func New(event seatwatch.Event, client *http.Client, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		event:    event,
		client:   client,
		logger:   logger.With("event", event.Name),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Event returns the tracked event.
func (t *Tracker) Event() seatwatch.Event {
	return t.event
}

// Snapshot returns the latest applied snapshot, if any poll has succeeded.
func (t *Tracker) Snapshot() (seatwatch.Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot, t.hasSnapshot
}

// Start polls immediately and then every interval until Stop is called or ctx ends.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true
	t.primed = false

	t.logger.Info("Seat tracker started",
		"endpoint", t.event.Endpoint,
		"total_seats", t.event.TotalSeats,
		"interval", t.interval.String())

	go t.run(ctx, t.done)
	return nil
}

// Stop cancels the polling schedule and any in-flight request, then waits for them to exit.
// Results that resolve after Stop are discarded. Stop is safe to call more than once.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
	t.inflight.Wait()

	t.logger.Info("Seat tracker stopped")
}

func (t *Tracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.launch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.launch(ctx)
		}
	}
}

// launch fires one poll without waiting for earlier ones to finish.
func (t *Tracker) launch(ctx context.Context) {
	t.mu.Lock()
	t.nextSeq++
	seq := t.nextSeq
	t.mu.Unlock()

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		t.poll(ctx, seq)
	}()
}

func (t *Tracker) poll(ctx context.Context, seq uint64) {
	available, err := t.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			t.logger.Debug("Seat poll cancelled", "seq", seq)
			return
		}
		t.logger.Warn("Seat poll failed, keeping last snapshot", "seq", seq, "error", err)
		if t.onFailure != nil {
			t.onFailure(t.event.Name, err)
		}
		return
	}

	snap := seatwatch.NewSnapshot(t.event.Name, t.event.TotalSeats, available, time.Now())
	milestone, crossed, applied := t.apply(ctx, seq, snap)
	if !applied {
		t.logger.Debug("Discarding stale seat poll result", "seq", seq, "filled_seats", snap.FilledSeats)
		return
	}

	t.logger.Debug("Seat snapshot updated",
		"seq", seq,
		"filled_seats", snap.FilledSeats,
		"available_seats", snap.AvailableSeats)

	if t.onUpdate != nil {
		t.onUpdate(snap)
	}
	if crossed {
		t.logger.Info("Seat milestone reached",
			"milestone", milestone.Milestone,
			"previous", milestone.Previous,
			"filled_seats", milestone.Filled)
		if t.onMilestone != nil {
			t.onMilestone(milestone)
		}
	}
}

// apply installs snap if it is newer than the current snapshot and the tracker is still running.
func (t *Tracker) apply(ctx context.Context, seq uint64, snap seatwatch.Snapshot) (seatwatch.MilestoneEvent, bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || ctx.Err() != nil || seq <= t.appliedSeq {
		return seatwatch.MilestoneEvent{}, false, false
	}

	prev := t.snapshot.FilledSeats
	primed := t.primed

	t.snapshot = snap
	t.hasSnapshot = true
	t.appliedSeq = seq
	t.primed = true

	// The first poll after Start only establishes the baseline.
	if !primed {
		return seatwatch.MilestoneEvent{}, false, true
	}

	boundary, crossed := seatwatch.CrossedMilestone(prev, snap.FilledSeats)
	if !crossed {
		return seatwatch.MilestoneEvent{}, false, true
	}

	return seatwatch.MilestoneEvent{
		At:        snap.UpdatedAt,
		Event:     t.event.Name,
		Milestone: boundary,
		Previous:  prev,
		Filled:    snap.FilledSeats,
	}, true, true
}
