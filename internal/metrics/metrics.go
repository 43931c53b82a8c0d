package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	modelReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "model_requests_total",
			Help:      "Total hosted model requests by kind, model and result",
		},
		[]string{"kind", "model", "result"},
	)

	modelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Name:      "model_request_duration_seconds",
			Help:      "Duration of hosted model requests by kind and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "model"},
	)

	answers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "answers_total",
			Help:      "Extracted answers by outcome (answered, empty, failed)",
		},
		[]string{"outcome"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "cache_lookups_total",
			Help:      "Answer cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	chunksIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "chunks_ingested_total",
			Help:      "Total chunks embedded and stored",
		},
	)

	documents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "documents_total",
			Help:      "Documents processed by final status",
		},
		[]string{"status"},
	)
)

var once sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(modelReqs, modelLatency, answers, cacheLookups, chunksIngested, documents)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

// ObserveModel records one call to a hosted model.
func ObserveModel(kind, model, result string, dur time.Duration) {
	modelReqs.WithLabelValues(kind, model, result).Inc()
	modelLatency.WithLabelValues(kind, model).Observe(dur.Seconds())
}

func IncAnswer(outcome string) { answers.WithLabelValues(outcome).Inc() }
func IncCache(result string) { cacheLookups.WithLabelValues(result).Inc() }
func AddChunks(n int) { chunksIngested.Add(float64(n)) }
func IncDocument(status string) { documents.WithLabelValues(status).Inc() }
