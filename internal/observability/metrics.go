package observability

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flows. A nil
// receiver is safe everywhere so callers never need to guard.
type BookingMetrics struct {
	bookingsTotal     *prometheus.CounterVec
	slotConflicts     prometheus.Counter
	reconcilerRepairs prometheus.Counter
	requestDuration   *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caremesh",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking coordinator operations by type and outcome",
		}, []string{"operation", "outcome"}),
		slotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caremesh",
			Subsystem: "booking",
			Name:      "slot_acquire_conflicts_total",
			Help:      "tryAcquire attempts rejected for exhausted or disabled slots",
		}),
		reconcilerRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caremesh",
			Subsystem: "booking",
			Name:      "reconciler_repairs_total",
			Help:      "Slot occupancy drift repairs made by the reconcile worker",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "caremesh",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.slotConflicts, m.reconcilerRepairs, m.requestDuration)
	return m
}

func (m *BookingMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *BookingMetrics) ObserveSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
}

func (m *BookingMetrics) ObserveReconcilerRepair() {
	if m == nil {
		return
	}
	m.reconcilerRepairs.Inc()
}

func (m *BookingMetrics) ObserveRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, path, status).Observe(seconds)
}
