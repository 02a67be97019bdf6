package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 指标管理器，所有方法对 nil 接收者安全
type Metrics struct {
	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 合成指标
	synthesisRequestsTotal *prometheus.CounterVec
	synthesisDuration      *prometheus.HistogramVec
	turnChunksTotal        *prometheus.CounterVec

	// 缓存指标
	cacheHitsTotal     *prometheus.CounterVec
	cacheMissesTotal   prometheus.Counter
	cacheWaitsTotal    prometheus.Counter
	generationDuration prometheus.Histogram

	// 克隆指标
	cloneJobsTotal *prometheus.CounterVec
}

// NewMetrics 在默认注册表上创建指标管理器
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith 在指定注册表上创建指标管理器，测试里使用独立注册表避免重复注册
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		synthesisRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_synthesis_requests_total",
				Help: "Total number of synthesis provider requests",
			},
			[]string{"mode", "result"},
		),

		synthesisDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voice_synthesis_duration_seconds",
				Help:    "Synthesis request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		turnChunksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_turn_chunks_total",
				Help: "Text chunks handled per conversational turn",
			},
			[]string{"outcome"},
		),

		cacheHitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_cache_hits_total",
				Help: "Total number of speech cache hits",
			},
			[]string{"tier"},
		),

		cacheMissesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "voice_cache_misses_total",
				Help: "Total number of speech cache misses that triggered generation",
			},
		),

		cacheWaitsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "voice_cache_claim_waits_total",
				Help: "Times a caller waited on another holder's generation claim",
			},
		),

		generationDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voice_cache_generation_duration_seconds",
				Help:    "Time spent generating audio on a cache miss",
				Buckets: prometheus.DefBuckets,
			},
		),

		cloneJobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_clone_jobs_total",
				Help: "Voice clone attempts by outcome",
			},
			[]string{"status"},
		),
	}
}

// RecordHTTPRequest 记录HTTP请求
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSynthesis 记录一次合成请求，mode 为 generate 或 stream
func (m *Metrics) RecordSynthesis(mode string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.synthesisRequestsTotal.WithLabelValues(mode, result).Inc()
	m.synthesisDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordTurnChunk 记录分句处理结果：sent、capped、cancelled
func (m *Metrics) RecordTurnChunk(outcome string) {
	if m == nil {
		return
	}
	m.turnChunksTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheHit 记录缓存命中，tier 为 l1 或 store
func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss 记录缓存未命中及生成耗时
func (m *Metrics) RecordCacheMiss(generation time.Duration) {
	if m == nil {
		return
	}
	m.cacheMissesTotal.Inc()
	m.generationDuration.Observe(generation.Seconds())
}

// RecordClaimWait 记录等待其他持有者生成
func (m *Metrics) RecordClaimWait() {
	if m == nil {
		return
	}
	m.cacheWaitsTotal.Inc()
}

// RecordCloneJob 记录克隆任务结果
func (m *Metrics) RecordCloneJob(status string) {
	if m == nil {
		return
	}
	m.cloneJobsTotal.WithLabelValues(status).Inc()
}
