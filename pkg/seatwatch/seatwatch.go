// Package seatwatch contains the core domain types for the seat watch service.
package seatwatch

import "time"

// MilestoneStep is the filled-seat interval at which milestones fire.
const MilestoneStep = 100

// Event describes one tracked event card.
type Event struct {
	Name       string `json:"name"`
	Endpoint   string `json:"endpoint"`    // Seat endpoint polled for availability
	TotalSeats int    `json:"total_seats"` // Capacity, always positive
}

// Snapshot is the derived seat state for one event after a successful poll.
type Snapshot struct {
	UpdatedAt      time.Time `json:"updated_at"`
	Event          string    `json:"event"`
	TotalSeats     int       `json:"total_seats"`
	AvailableSeats int       `json:"available_seats"`
	FilledSeats    int       `json:"filled_seats"`
}

// NewSnapshot derives a snapshot from the capacity and the reported availability.
// Availability outside [0, total] is clamped so Filled+Available always equals Total.
func NewSnapshot(event string, total, available int, at time.Time) Snapshot {
	available = max(0, min(available, total))
	return Snapshot{
		UpdatedAt:      at,
		Event:          event,
		TotalSeats:     total,
		AvailableSeats: available,
		FilledSeats:    total - available,
	}
}

// FillPercent reports how full the event is, from 0 to 100.
func (s Snapshot) FillPercent() float64 {
	if s.TotalSeats <= 0 {
		return 0
	}
	return float64(s.FilledSeats) / float64(s.TotalSeats) * 100
}

// MilestoneEvent is emitted when the filled count crosses a new multiple of MilestoneStep.
type MilestoneEvent struct {
	At        time.Time `json:"at"`
	Event     string    `json:"event"`
	Milestone int       `json:"milestone"` // Highest boundary crossed
	Previous  int       `json:"previous"`  // Filled seats before the update
	Filled    int       `json:"filled"`    // Filled seats after the update
}

// CrossedMilestone reports the highest boundary crossed going from prev to next filled seats.
// Only upward movement across at least one boundary counts.
func CrossedMilestone(prev, next int) (int, bool) {
	if next <= prev || next/MilestoneStep <= prev/MilestoneStep {
		return 0, false
	}
	return next / MilestoneStep * MilestoneStep, true
}

// Preference is the notification opt-in state.
type Preference struct {
	Token   string `json:"-"`       // Push token, held in memory only
	Enabled bool   `json:"enabled"` // Persisted across restarts
}

// TokenRecord is the document registered in the remote store, keyed by its token.
type TokenRecord struct {
	RegisteredAt time.Time `json:"registered_at"`
	Token        string    `json:"token"`
}
