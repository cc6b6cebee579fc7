// Package metrics provides Prometheus metrics for document loading, rendering
// and live sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultHit      = "hit"
	ResultMiss     = "miss"
)

// Metrics contains the collectors of the server. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	documentsLoaded   *prometheus.CounterVec
	loadDuration      prometheus.Histogram
	renderCache       *prometheus.CounterVec
	indexRebuilds     prometheus.Counter
	indexDocuments    prometheus.Gauge
	liveSessions      prometheus.Gauge
	staleLoadsDropped prometheus.Counter
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		documentsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdfolio_documents_loaded_total",
				Help: "Total number of document resolutions",
			},
			[]string{"result"}, // result: ok, not_found
		),
		loadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "mdfolio_document_load_seconds",
				Help: "Time taken to resolve and read a document",
				// Local reads: 100µs to ~400ms.
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 7),
			},
		),
		renderCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdfolio_render_cache_total",
				Help: "Rendered HTML cache lookups",
			},
			[]string{"result"}, // result: hit, miss
		),
		indexRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdfolio_index_rebuilds_total",
			Help: "Number of times the document index was rebuilt",
		}),
		indexDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdfolio_index_documents",
			Help: "Number of documents in the current index",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdfolio_live_sessions",
			Help: "Number of connected live sessions",
		}),
		staleLoadsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdfolio_stale_loads_discarded_total",
			Help: "Document loads whose result was discarded because a newer selection was made",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.documentsLoaded, m.loadDuration, m.renderCache, m.indexRebuilds,
		m.indexDocuments, m.liveSessions, m.staleLoadsDropped,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// DocumentLoaded records the outcome and latency of one document resolution.
func (m *Metrics) DocumentLoaded(found bool, d time.Duration) {
	if m == nil {
		return
	}
	result := ResultOK
	if !found {
		result = ResultNotFound
	}
	m.documentsLoaded.WithLabelValues(result).Inc()
	m.loadDuration.Observe(d.Seconds())
}

// RenderCache records a render cache lookup.
func (m *Metrics) RenderCache(hit bool) {
	if m == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	m.renderCache.WithLabelValues(result).Inc()
}

// IndexRebuilt records an index rebuild with n documents.
func (m *Metrics) IndexRebuilt(n int) {
	if m == nil {
		return
	}
	m.indexRebuilds.Inc()
	m.indexDocuments.Set(float64(n))
}

// SessionOpened increments the live session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.liveSessions.Inc()
}

// SessionClosed decrements the live session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.liveSessions.Dec()
}

// StaleLoadDiscarded records a load superseded by a newer selection.
func (m *Metrics) StaleLoadDiscarded() {
	if m == nil {
		return
	}
	m.staleLoadsDropped.Inc()
}
