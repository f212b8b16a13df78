// Package metrics exposes Prometheus counters for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set holds the pipeline counters. A nil *Set is safe to use; every method
// no-ops, so callers never have to guard instrumentation sites.
type Set struct {
	EventsReceived    prometheus.Counter
	DuplicatesDropped prometheus.Counter
	ParseErrors       prometheus.Counter
	UnroutableEvents  prometheus.Counter
	TranslationErrors prometheus.Counter
	BatchesFlushed    prometheus.Counter
	EventsApplied     prometheus.Counter
	Reconnects        prometheus.Counter
}

// NewSet creates the counter set and registers it with reg.
func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_events_received_total",
			Help: "Raw frames received from the event stream.",
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_duplicates_dropped_total",
			Help: "Frames discarded by the dedup window.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_parse_errors_total",
			Help: "Frames that failed to decode.",
		}),
		UnroutableEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_unroutable_events_total",
			Help: "Events dropped for missing a session id.",
		}),
		TranslationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_translation_errors_total",
			Help: "Events that failed canonical translation.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_batches_flushed_total",
			Help: "Debounced batches delivered to the reconciler.",
		}),
		EventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_events_applied_total",
			Help: "Events applied to the canonical timeline.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_reconnects_total",
			Help: "Stream reconnect attempts scheduled.",
		}),
	}

	reg.MustRegister(
		s.EventsReceived,
		s.DuplicatesDropped,
		s.ParseErrors,
		s.UnroutableEvents,
		s.TranslationErrors,
		s.BatchesFlushed,
		s.EventsApplied,
		s.Reconnects,
	)
	return s
}

// IncEventsReceived and friends are nil-safe wrappers used by the pipeline.

func (s *Set) IncEventsReceived() {
	if s != nil {
		s.EventsReceived.Inc()
	}
}

func (s *Set) IncDuplicatesDropped() {
	if s != nil {
		s.DuplicatesDropped.Inc()
	}
}

func (s *Set) IncParseErrors() {
	if s != nil {
		s.ParseErrors.Inc()
	}
}

func (s *Set) IncUnroutableEvents() {
	if s != nil {
		s.UnroutableEvents.Inc()
	}
}

func (s *Set) IncTranslationErrors() {
	if s != nil {
		s.TranslationErrors.Inc()
	}
}

func (s *Set) IncBatchesFlushed() {
	if s != nil {
		s.BatchesFlushed.Inc()
	}
}

func (s *Set) IncEventsApplied() {
	if s != nil {
		s.EventsApplied.Inc()
	}
}

func (s *Set) IncReconnects() {
	if s != nil {
		s.Reconnects.Inc()
	}
}
