// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// フェッチ戦略チェーン、取り込み、統計、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordStrategyAttempt(strategy string, outcome string, duration time.Duration)
	RecordFetchSource(source string)
	RecordItemsIngested(newCount, existingCount int)
	RecordStatsComputed()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	strategyAttempts *prometheus.CounterVec
	strategyLatency  *prometheus.HistogramVec
	fetchSource      *prometheus.CounterVec
	itemsIngested    *prometheus.CounterVec
	statsComputed    prometheus.Counter
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		strategyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vintedwatch_strategy_attempts_total",
			Help: "取得戦略の試行回数（戦略・結果別）",
		}, []string{"strategy", "outcome"}),
		strategyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vintedwatch_strategy_latency_seconds",
			Help:    "取得戦略1回あたりのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		fetchSource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vintedwatch_fetch_source_total",
			Help: "フェッチ結果の取得元（live/mock）別の件数",
		}, []string{"source"}),
		itemsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vintedwatch_items_ingested_total",
			Help: "取り込んだ出品数（new/existing別）",
		}, []string{"result"}),
		statsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vintedwatch_stats_computed_total",
			Help: "日次統計の計算回数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vintedwatch_http_status_total",
			Help: "APIレスポンスのHTTPステータスコード別件数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.strategyAttempts,
		c.strategyLatency,
		c.fetchSource,
		c.itemsIngested,
		c.statsComputed,
		c.httpStatus,
	)

	return c
}

// RecordStrategyAttempt は取得戦略の試行結果とレイテンシを記録する。
func (c *Collector) RecordStrategyAttempt(strategy string, outcome string, duration time.Duration) {
	c.strategyAttempts.WithLabelValues(strategy, outcome).Inc()
	c.strategyLatency.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordFetchSource はフェッチ結果の取得元を記録する。
func (c *Collector) RecordFetchSource(source string) {
	c.fetchSource.WithLabelValues(source).Inc()
}

// RecordItemsIngested は新規・既存の出品数を記録する。
func (c *Collector) RecordItemsIngested(newCount, existingCount int) {
	c.itemsIngested.WithLabelValues("new").Add(float64(newCount))
	c.itemsIngested.WithLabelValues("existing").Add(float64(existingCount))
}

// RecordStatsComputed は日次統計の計算を記録する。
func (c *Collector) RecordStatsComputed() {
	c.statsComputed.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
