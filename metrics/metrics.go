// Package metrics exposes seat and notification counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"seatwatch/pkg/seatwatch"
	"seatwatch/poll"
)

// Collector holds the service's Prometheus collectors.
type Collector struct {
	FilledSeats    *prometheus.GaugeVec
	AvailableSeats *prometheus.GaugeVec
	PollFailures   *prometheus.CounterVec
	Milestones     *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		FilledSeats: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "seatwatch_filled_seats",
				Help: "Filled seats reported by the latest successful poll",
			},
			[]string{"event"},
		),
		AvailableSeats: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "seatwatch_available_seats",
				Help: "Available seats reported by the latest successful poll",
			},
			[]string{"event"},
		),
		PollFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seatwatch_poll_failures_total",
				Help: "The total number of failed seat polls",
			},
			[]string{"event", "reason"},
		),
		Milestones: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seatwatch_milestones_total",
				Help: "The total number of filled-seat milestones crossed",
			},
			[]string{"event"},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seatwatch_notification_transitions_total",
				Help: "Notification preference transitions by outcome",
			},
			[]string{"transition", "result"},
		),
	}
}

// ObserveSnapshot records the latest seat counts for an event.
func (c *Collector) ObserveSnapshot(snap seatwatch.Snapshot) {
	c.FilledSeats.WithLabelValues(snap.Event).Set(float64(snap.FilledSeats))
	c.AvailableSeats.WithLabelValues(snap.Event).Set(float64(snap.AvailableSeats))
}

// RecordPollFailure counts a failed poll, split by whether the endpoint answered with an error status.
func (c *Collector) RecordPollFailure(event string, err error) {
	reason := "request"
	if poll.IsHTTPStatusError(err) {
		reason = "status"
	}
	c.PollFailures.WithLabelValues(event, reason).Inc()
}

// RecordMilestone counts a milestone crossing.
func (c *Collector) RecordMilestone(ev seatwatch.MilestoneEvent) {
	c.Milestones.WithLabelValues(ev.Event).Inc()
}

// RecordTransition counts a notification preference transition.
func (c *Collector) RecordTransition(transition, result string) {
	c.Transitions.WithLabelValues(transition, result).Inc()
}
