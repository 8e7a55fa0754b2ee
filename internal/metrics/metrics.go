// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 書き込み操作の結果ラベル。
const (
	OutcomeSuccess      = "success"
	OutcomeRejected     = "rejected"
	OutcomeFeedFailure  = "feed_failure"
	OutcomeStoreFailure = "store_failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// コーディネーター、ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordMutation(operation, outcome string)
	RecordDualWriteDivergence(operation string)
	RecordCounterClamped(counter string)
	RecordCounterRepaired(counter string, count int)
	RecordHTTPStatus(statusCode int)
	ObserveFeedRequest(operation string, d time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	mutations       *prometheus.CounterVec
	divergence      *prometheus.CounterVec
	counterClamped  *prometheus.CounterVec
	counterRepaired *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	feedLatency     *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_mutations_total",
			Help: "書き込み操作の結果別件数",
		}, []string{"operation", "outcome"}),
		divergence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_dual_write_divergence_total",
			Help: "フィード更新後にストア更新が失敗した件数",
		}, []string{"operation"}),
		counterClamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_counter_clamped_total",
			Help: "0未満への減算が0で打ち止めされた件数",
		}, []string{"counter"}),
		counterRepaired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_counter_repaired_total",
			Help: "整合ジョブが修正したカウンタ行数",
		}, []string{"counter"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		feedLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chirp_feed_request_duration_seconds",
			Help:    "フィードサービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.mutations,
		c.divergence,
		c.counterClamped,
		c.counterRepaired,
		c.httpStatus,
		c.feedLatency,
	)

	return c
}

// RecordMutation は書き込み操作の結果を記録する。
func (c *Collector) RecordMutation(operation, outcome string) {
	c.mutations.WithLabelValues(operation, outcome).Inc()
}

// RecordDualWriteDivergence はフィードとストアの不一致発生を記録する。
func (c *Collector) RecordDualWriteDivergence(operation string) {
	c.divergence.WithLabelValues(operation).Inc()
}

// RecordCounterClamped はカウンタ減算の打ち止めを記録する。
func (c *Collector) RecordCounterClamped(counter string) {
	c.counterClamped.WithLabelValues(counter).Inc()
}

// RecordCounterRepaired は整合ジョブによる修正行数を記録する。
func (c *Collector) RecordCounterRepaired(counter string, count int) {
	c.counterRepaired.WithLabelValues(counter).Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveFeedRequest はフィードサービス呼び出しのレイテンシを記録する。
func (c *Collector) ObserveFeedRequest(operation string, d time.Duration) {
	c.feedLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordMutation(string, string)            {}
func (Nop) RecordDualWriteDivergence(string)         {}
func (Nop) RecordCounterClamped(string)              {}
func (Nop) RecordCounterRepaired(string, int)        {}
func (Nop) RecordHTTPStatus(int)                     {}
func (Nop) ObserveFeedRequest(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
