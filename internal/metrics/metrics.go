// Package metrics provides Prometheus metrics for the USSD engine.
//
// Labels are bounded enums (menu, outcome, operation). Session ids and
// phone numbers never appear in labels.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts gateway requests by outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalbox_ussd_requests_total",
		Help: "Total number of USSD requests, by outcome.",
	}, []string{"outcome"}) // outcome=con|end|panic|rate_limited|bad_request

	// RequestDuration observes engine latency per request.
	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signalbox_ussd_request_duration_seconds",
		Help:    "Time spent handling one USSD request.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// MenuDispatchTotal counts router dispatches by menu.
	MenuDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalbox_menu_dispatch_total",
		Help: "Total number of handler dispatches, by menu.",
	}, []string{"menu"})

	// UnknownMenuTotal counts sessions recovered from an unroutable menu.
	UnknownMenuTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalbox_unknown_menu_total",
		Help: "Total number of sessions reset to main from an unknown menu.",
	})

	// PINFailuresTotal counts wrong PIN submissions.
	PINFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalbox_pin_failures_total",
		Help: "Total number of incorrect PIN submissions.",
	})

	// PINLockoutsTotal counts sessions ended by the PIN retry limit.
	PINLockoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalbox_pin_lockouts_total",
		Help: "Total number of sessions ended after too many wrong PINs.",
	})

	// CollaboratorErrorsTotal counts failed collaborator calls by operation.
	CollaboratorErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalbox_collaborator_errors_total",
		Help: "Total number of failed collaborator calls, by operation.",
	}, []string{"op"})

	// TransactionsTotal counts financial actions by kind and result.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalbox_transactions_total",
		Help: "Total number of financial actions, by kind and result.",
	}, []string{"kind", "result"}) // result=success|rejected|error

	// SessionsActive tracks live sessions after the last sweep.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signalbox_sessions_active",
		Help: "Number of live sessions in the store after the last sweep.",
	})

	// SessionsExpiredTotal counts sessions removed by the sweeper.
	SessionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalbox_sessions_expired_total",
		Help: "Total number of idle sessions removed by the sweeper.",
	})

	// AlertsTotal counts operational alerts by result.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalbox_alerts_total",
		Help: "Total number of operational alerts, by kind and result.",
	}, []string{"kind", "result"})
)

// ObserveRequest records one engine request.
func ObserveRequest(outcome string, started time.Time) {
	RequestsTotal.WithLabelValues(outcome).Inc()
	RequestDuration.Observe(time.Since(started).Seconds())
}

// RecordSweep records a sweep result.
func RecordSweep(removed, remaining int) {
	SessionsExpiredTotal.Add(float64(removed))
	SessionsActive.Set(float64(remaining))
}

// RecordTransaction records the result of a financial action.
func RecordTransaction(kind, result string) {
	TransactionsTotal.WithLabelValues(kind, result).Inc()
}

// RecordCollaboratorError records a failed collaborator call.
func RecordCollaboratorError(op string) {
	CollaboratorErrorsTotal.WithLabelValues(op).Inc()
}
