// Package metrics holds the Prometheus collectors for the outreach pipeline.
// Collectors register on the default registry; GET /metrics serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Action pipeline
var (
	// ActionsTotal counts finished actions by type and terminal status.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_actions_total",
			Help: "Actions finished, by type and terminal status",
		},
		[]string{"type", "status"},
	)

	// ActionDuration measures the channel round trip of an action in seconds.
	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_action_duration_seconds",
			Help:    "Time from claim to completion of an action",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"type"},
	)

	// SchedulingRejections counts execution attempts that left an action pending.
	SchedulingRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_scheduling_rejections_total",
			Help: "Execution attempts rejected by gating",
		},
		[]string{"reason"},
	)

	// QueueDepth is the number of pending actions per agent, refreshed on each tick.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outreach_queue_depth",
			Help: "Pending actions per agent",
		},
		[]string{"agent_id"},
	)
)

// Templates
var (
	// TemplateResolutions counts resolve calls; outcome is complete or missing_required.
	TemplateResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_template_resolutions_total",
			Help: "Template resolutions by outcome",
		},
		[]string{"outcome"},
	)
)

// Leads
var (
	LeadsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_leads_processed_total",
			Help: "Incoming leads scored, by urgency",
		},
		[]string{"urgency"},
	)
)
