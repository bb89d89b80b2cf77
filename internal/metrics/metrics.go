// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// APIクライアント、カート同期、チェックアウト、ダウンロードから利用する。
type MetricsCollector interface {
	RecordAPIRequest(operation, outcome string, duration time.Duration)
	RecordStaleResponse(operation string)
	RecordSessionEvent(event string)
	RecordCheckout(result string)
	RecordDownload(result string, bytes int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiRequests    *prometheus.CounterVec
	apiLatency     *prometheus.HistogramVec
	staleResponses *prometheus.CounterVec
	sessionEvents  *prometheus.CounterVec
	checkouts      *prometheus.CounterVec
	downloads      *prometheus.CounterVec
	downloadBytes  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_api_requests_total",
			Help: "ストアAPI呼び出しの合計数（操作・結果別）",
		}, []string{"operation", "outcome"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_api_request_duration_seconds",
			Help:    "ストアAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		staleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_stale_responses_total",
			Help: "より新しい読み取りに追い越されて破棄された応答の合計数",
		}, []string{"operation"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_session_events_total",
			Help: "セッションイベントの合計数",
		}, []string{"event"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkout_attempts_total",
			Help: "チェックアウト試行の合計数（結果別）",
		}, []string{"result"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_downloads_total",
			Help: "ダウンロードの合計数（結果別）",
		}, []string{"result"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_download_bytes_total",
			Help: "ダウンロードしたバイト数の合計",
		}),
	}

	reg.MustRegister(
		c.apiRequests,
		c.apiLatency,
		c.staleResponses,
		c.sessionEvents,
		c.checkouts,
		c.downloads,
		c.downloadBytes,
	)

	return c
}

// RecordAPIRequest はAPI呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordAPIRequest(operation, outcome string, duration time.Duration) {
	c.apiRequests.WithLabelValues(operation, outcome).Inc()
	c.apiLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStaleResponse は破棄された古い応答を記録する。
func (c *Collector) RecordStaleResponse(operation string) {
	c.staleResponses.WithLabelValues(operation).Inc()
}

// RecordSessionEvent はログイン・ログアウト等のセッションイベントを記録する。
func (c *Collector) RecordSessionEvent(event string) {
	c.sessionEvents.WithLabelValues(event).Inc()
}

// RecordCheckout はチェックアウト試行の結果を記録する。
func (c *Collector) RecordCheckout(result string) {
	c.checkouts.WithLabelValues(result).Inc()
}

// RecordDownload はダウンロード結果と転送バイト数を記録する。
func (c *Collector) RecordDownload(result string, bytes int64) {
	c.downloads.WithLabelValues(result).Inc()
	if bytes > 0 {
		c.downloadBytes.Add(float64(bytes))
	}
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordAPIRequest(string, string, time.Duration) {}
func (NopCollector) RecordStaleResponse(string)                     {}
func (NopCollector) RecordSessionEvent(string)                      {}
func (NopCollector) RecordCheckout(string)                          {}
func (NopCollector) RecordDownload(string, int64)                   {}

// OrNop はmがnilの場合にNopCollectorを返す。
func OrNop(m MetricsCollector) MetricsCollector {
	if m == nil {
		return NopCollector{}
	}
	return m
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
