package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dinehall",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	reservationsPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dinehall",
			Name:      "reservations_placed_total",
			Help:      "Placed reservations by initial status.",
		},
		[]string{"status"},
	)

	reconcileOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dinehall",
			Name:      "reconcile_outcomes_total",
			Help:      "Reconciliation candidate outcomes.",
		},
		[]string{"outcome"},
	)

	reapedReservations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dinehall",
			Name:      "reaped_reservations_total",
			Help:      "Reservations cancelled by the expiry reaper.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, reservationsPlaced, reconcileOutcomes, reapedReservations)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncPlaced counts a placed reservation by its initial status.
func IncPlaced(status string) {
	reservationsPlaced.WithLabelValues(status).Inc()
}

// AddReconcileOutcomes records the counters of one reconciliation pass.
func AddReconcileOutcomes(reversed, updated, failed, skipped int) {
	reconcileOutcomes.WithLabelValues("reversed").Add(float64(reversed))
	reconcileOutcomes.WithLabelValues("updated").Add(float64(updated))
	reconcileOutcomes.WithLabelValues("failed").Add(float64(failed))
	reconcileOutcomes.WithLabelValues("skipped").Add(float64(skipped))
}

// AddReaped records reservations cancelled by one reaper pass.
func AddReaped(count int) {
	reapedReservations.Add(float64(count))
}
