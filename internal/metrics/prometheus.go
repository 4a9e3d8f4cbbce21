package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder with collectors on its own registry.
type PrometheusRecorder struct {
	registry        *prometheus.Registry
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	stageDuration   *prometheus.HistogramVec
	llmRequests     *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	embedDuration   prometheus.Histogram
	indexedDocument *prometheus.GaugeVec
}

// NewPrometheusRecorder creates a recorder backed by a fresh registry that also
// carries the Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insightdeck_runs_total",
				Help: "Total number of pipeline runs by final status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "insightdeck_run_duration_seconds",
				Help:    "Duration of complete pipeline runs in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insightdeck_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
			},
			[]string{"stage", "outcome"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insightdeck_llm_requests_total",
				Help: "Total number of completion requests by model, insight kind and status",
			},
			[]string{"model", "kind", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insightdeck_llm_tokens_total",
				Help: "Total number of tokens used in completion requests",
			},
			[]string{"model", "type"},
		),
		llmDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insightdeck_llm_request_duration_seconds",
				Help:    "Duration of completion requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		embedDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "insightdeck_embedding_duration_seconds",
				Help:    "Duration of embedding batches in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		indexedDocument: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "insightdeck_indexed_documents",
				Help: "Number of documents in each index collection",
			},
			[]string{"collection"},
		),
	}
}

// Registry returns the registry the recorder's collectors live on.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *PrometheusRecorder) ObserveRun(status string, duration time.Duration) {
	p.runsTotal.WithLabelValues(status).Inc()
	p.runDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveStage(stage, outcome string, duration time.Duration) {
	p.stageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveLLM(model, kind string, success bool, inputTokens, outputTokens int64, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.llmRequests.WithLabelValues(model, kind, status).Inc()

	if success {
		p.llmTokens.WithLabelValues(model, "prompt").Add(float64(inputTokens))
		p.llmTokens.WithLabelValues(model, "completion").Add(float64(outputTokens))
	}
	p.llmDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveEmbedding(duration time.Duration) {
	p.embedDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) SetIndexed(collection string, n int) {
	p.indexedDocument.WithLabelValues(collection).Set(float64(n))
}
