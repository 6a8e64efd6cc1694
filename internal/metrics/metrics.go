package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "dental"

// SchedulingMetrics exposes counters/histograms for booking and slot search.
type SchedulingMetrics struct {
	bookingAttempts *prometheus.CounterVec
	slotSearch      *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "booking_attempts_total",
			Help:      "Booking attempts by outcome (booked, conflict, out_of_schedule, busy, error)",
		}, []string{"outcome"}),
		slotSearch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "slot_search_seconds",
			Help:      "Latency of slot engine searches",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingAttempts, m.slotSearch)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingAttempts.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveSlotSearch(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.slotSearch.WithLabelValues(operation).Observe(seconds)
}

// ConversationMetrics tracks state machine activity.
type ConversationMetrics struct {
	steps           *prometheus.CounterVec
	interrupts      *prometheus.CounterVec
	adapterFailures *prometheus.CounterVec
	classifications *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "steps_total",
			Help:      "State machine steps executed",
		}, []string{"step"}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "interrupts_total",
			Help:      "Conversations suspended waiting for external input",
		}, []string{"reason"}),
		adapterFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "adapter_failures_total",
			Help:      "Classifier / responder calls that failed and were degraded",
		}, []string{"adapter"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "classifications_total",
			Help:      "Inbound messages by classification",
		}, []string{"classification"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.steps, m.interrupts, m.adapterFailures, m.classifications)
	return m
}

func (m *ConversationMetrics) ObserveStep(step string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(step).Inc()
}

func (m *ConversationMetrics) ObserveInterrupt(reason string) {
	if m == nil {
		return
	}
	m.interrupts.WithLabelValues(reason).Inc()
}

func (m *ConversationMetrics) ObserveAdapterFailure(adapter string) {
	if m == nil {
		return
	}
	m.adapterFailures.WithLabelValues(adapter).Inc()
}

func (m *ConversationMetrics) ObserveClassification(classification string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(classification).Inc()
}
