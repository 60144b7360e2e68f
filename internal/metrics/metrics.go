// Package metrics exposes the engine's prometheus counters. All collectors
// register on the default registry served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MarksAccepted counts persisted attendance events by source.
	MarksAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostel_marks_accepted_total",
		Help: "Attendance events accepted and persisted, by source.",
	}, []string{"source"})

	// MarksRejected counts validator rejections by reason.
	MarksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostel_marks_rejected_total",
		Help: "Proposed events rejected by the entry validator, by reason.",
	}, []string{"reason"})

	// LeaveCollisions counts marks that hit an approved leave and bounced
	// back for a resolution.
	LeaveCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostel_leave_collisions_total",
		Help: "Marks that collided with an approved leave.",
	})

	// SweepRuns counts completed auto-mark sweeps.
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostel_automark_runs_total",
		Help: "Completed auto-mark sweep runs.",
	})

	// SweepVerdicts counts verdicts written by sweeps, by verdict value.
	SweepVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hostel_automark_verdicts_total",
		Help: "Verdicts produced by auto-mark sweeps.",
	}, []string{"verdict"})

	// Reconciliations counts events resolved through the queue.
	Reconciliations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostel_reconciliations_total",
		Help: "Events resolved through the reconciliation queue.",
	})
)
