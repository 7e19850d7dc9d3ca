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
// 認証コントローラー、セッションウォッチャー、台帳、HTTP層から利用する。
type MetricsCollector interface {
	RecordAuthOperation(operation, outcome string)
	RecordSessionTransition(status string)
	RecordLedgerAppend(result string)
	SetActiveWorkspaces(n int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authOperations     *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	ledgerAppends      *prometheus.CounterVec
	workspacesActive   prometheus.Gauge
	httpStatus         *prometheus.CounterVec
	requestLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expensetracker_auth_operations_total",
			Help: "認証フローの実行結果別の合計数",
		}, []string{"operation", "outcome"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expensetracker_session_transitions_total",
			Help: "セッション状態の遷移先別の合計数",
		}, []string{"status"}),
		ledgerAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expensetracker_ledger_appends_total",
			Help: "支出登録の結果別の合計数",
		}, []string{"result"}),
		workspacesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "expensetracker_workspaces_active",
			Help: "稼働中のクライアントワークスペース数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expensetracker_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "expensetracker_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authOperations,
		c.sessionTransitions,
		c.ledgerAppends,
		c.workspacesActive,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordAuthOperation は認証フローの結果を記録する。outcomeは"ok"、"validation"またはエラーカテゴリ。
func (c *Collector) RecordAuthOperation(operation, outcome string) {
	c.authOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordSessionTransition はセッション状態の遷移を記録する。
func (c *Collector) RecordSessionTransition(status string) {
	c.sessionTransitions.WithLabelValues(status).Inc()
}

// RecordLedgerAppend は支出登録の結果を記録する。
func (c *Collector) RecordLedgerAppend(result string) {
	c.ledgerAppends.WithLabelValues(result).Inc()
}

// SetActiveWorkspaces は稼働中のワークスペース数を設定する。
func (c *Collector) SetActiveWorkspaces(n int) {
	c.workspacesActive.Set(float64(n))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はHTTPリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
