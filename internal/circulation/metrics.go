package circulation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circulation",
		Name:      "checkouts_total",
		Help:      "Checkout attempts by outcome.",
	}, []string{"result"})

	checkinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circulation",
		Name:      "checkins_total",
		Help:      "Completed check-ins by return condition.",
	}, []string{"condition"})

	renewalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circulation",
		Name:      "renewals_total",
		Help:      "Renewal attempts by outcome.",
	}, []string{"result"})

	reservationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circulation",
		Name:      "reservation_transitions_total",
		Help:      "Reservation state changes by target status.",
	}, []string{"status"})

	finesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circulation",
		Name:      "fines_recorded_total",
		Help:      "Fines created by type.",
	}, []string{"type"})

	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "circulation",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of periodic sweeps.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sweep"})

	conflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circulation",
		Name:      "conflict_retries_total",
		Help:      "Transactions retried after a write conflict.",
	}, []string{"op"})

	notificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circulation",
		Name:      "notification_failures_total",
		Help:      "Notifications that could not be handed to the transport.",
	}, []string{"kind"})
)

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}
