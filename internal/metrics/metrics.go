// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン・ログアウトの結果ラベル。
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeTimeout = "timeout"
	OutcomeFailed  = "failed"
	OutcomeStore   = "store_unavailable"
	OutcomeSession = "session_failed"
	OutcomeState   = "invalid_state"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordCallbackDuration(duration time.Duration)
	RecordUserCreated()
	RecordLogout(outcome string)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins           *prometheus.CounterVec
	callbackDuration prometheus.Histogram
	usersCreated     prometheus.Counter
	logouts          *prometheus.CounterVec
	sessionsPurged   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_login_total",
			Help: "結果別のログインコールバック処理数",
		}, []string{"outcome"}),
		callbackDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_callback_duration_seconds",
			Help:    "OAuthコールバック処理の所要時間（秒）",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		}),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_users_created_total",
			Help: "初回ログインで作成されたユーザー数",
		}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_logout_total",
			Help: "結果別のログアウト処理数",
		}, []string{"outcome"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_sessions_purged_total",
			Help: "クリーンアップで削除された期限切れセッション数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.callbackDuration,
		c.usersCreated,
		c.logouts,
		c.sessionsPurged,
	)

	return c
}

// RecordLogin はログインコールバックの結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordCallbackDuration はコールバック処理の所要時間を記録する。
func (c *Collector) RecordCallbackDuration(duration time.Duration) {
	c.callbackDuration.Observe(duration.Seconds())
}

// RecordUserCreated はユーザーの新規作成を記録する。
func (c *Collector) RecordUserCreated() {
	c.usersCreated.Inc()
}

// RecordLogout はログアウトの結果を記録する。
func (c *Collector) RecordLogout(outcome string) {
	c.logouts.WithLabelValues(outcome).Inc()
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordLogin(string)                   {}
func (NopCollector) RecordCallbackDuration(time.Duration) {}
func (NopCollector) RecordUserCreated()                   {}
func (NopCollector) RecordLogout(string)                  {}
func (NopCollector) RecordSessionsPurged(int64)           {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
