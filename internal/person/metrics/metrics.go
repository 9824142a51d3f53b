package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metrics provides observability for the person registry.
// All methods are safe on a nil receiver so optional wiring stays terse.
type Metrics struct {
	PersonsCreated     prometheus.Counter
	NicknameConflicts  prometheus.Counter
	ValidationFailures prometheus.Counter
	EventsDropped      prometheus.Counter
	EventsPublished    *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	CreateDuration     prometheus.Histogram
	SearchDuration     prometheus.Histogram
}

// New creates the registry metrics on reg. Tests pass prometheus.NewRegistry()
// so repeated construction does not collide on the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PersonsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "pessoas_created_total",
			Help: "Total number of persons created",
		}),
		NicknameConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "pessoas_nickname_conflicts_total",
			Help: "Create attempts rejected because the nickname was taken",
		}),
		ValidationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "pessoas_validation_failures_total",
			Help: "Create attempts rejected by validation",
		}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "pessoas_events_dropped_total",
			Help: "Person events dropped because the outbound buffer was full",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pessoas_events_published_total",
			Help: "Person events handed to the publisher, by result",
		}, []string{"result"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pessoas_cache_lookups_total",
			Help: "Person cache lookups, by result (hit or miss)",
		}, []string{"result"}),
		CreateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pessoas_create_duration_seconds",
			Help:    "Duration of create operations",
			Buckets: latencyBuckets,
		}),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pessoas_search_duration_seconds",
			Help:    "Duration of search operations",
			Buckets: latencyBuckets,
		}),
	}
}

func (m *Metrics) IncrementCreated() {
	if m == nil {
		return
	}
	m.PersonsCreated.Inc()
}

func (m *Metrics) IncrementConflict() {
	if m == nil {
		return
	}
	m.NicknameConflicts.Inc()
}

func (m *Metrics) IncrementValidationFailure() {
	if m == nil {
		return
	}
	m.ValidationFailures.Inc()
}

func (m *Metrics) IncrementEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// RecordEventPublished counts a publish attempt; ok=false records a failure.
func (m *Metrics) RecordEventPublished(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.EventsPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// ObserveCreate records the duration of a create operation.
// Call with time.Now() captured at the start of the operation.
func (m *Metrics) ObserveCreate(start time.Time) {
	if m == nil {
		return
	}
	m.CreateDuration.Observe(time.Since(start).Seconds())
}

// ObserveSearch records the duration of a search operation.
func (m *Metrics) ObserveSearch(start time.Time) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(time.Since(start).Seconds())
}
