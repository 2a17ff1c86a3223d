// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	LoginSuccess       = "success"
	LoginProtocolError = "protocol_error"
	LoginConflict      = "conflict"
	LoginError         = "error"
)

// セッション検証結果のラベル値
const (
	SessionValid       = "valid"
	SessionMissing     = "missing"
	SessionInvalid     = "invalid"
	SessionExpired     = "expired"
	SessionLookupError = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordSessionCreated()
	RecordSessionValidation(result string)
	RecordSessionCacheLookup(hit bool)
	RecordSessionsSwept(count int64)
	RecordChatAppended()
	RecordChatCleared(count int64)
	RecordHTTPStatus(statusCode int)
	RecordOAuthLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins            *prometheus.CounterVec
	sessionsCreated   prometheus.Counter
	sessionValidation *prometheus.CounterVec
	sessionCache      *prometheus.CounterVec
	sessionsSwept     prometheus.Counter
	chatAppended      prometheus.Counter
	chatCleared       prometheus.Counter
	httpStatus        *prometheus.CounterVec
	oauthLatency      prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scholarly_logins_total",
			Help: "OAuthコールバック処理の結果別件数",
		}, []string{"outcome"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scholarly_sessions_created_total",
			Help: "発行したセッションの合計数",
		}),
		sessionValidation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scholarly_session_validations_total",
			Help: "セッション検証の結果別件数",
		}, []string{"result"}),
		sessionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scholarly_session_cache_lookups_total",
			Help: "セッションキャッシュ参照のヒット・ミス件数",
		}, []string{"result"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scholarly_sessions_swept_total",
			Help: "期限切れで削除したセッションの合計数",
		}),
		chatAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scholarly_chat_messages_appended_total",
			Help: "保存したチャットメッセージの合計数",
		}),
		chatCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scholarly_chat_messages_cleared_total",
			Help: "履歴削除で消去したチャットメッセージの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scholarly_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		oauthLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scholarly_oauth_exchange_latency_seconds",
			Help:    "認可コード交換からユーザー情報取得までのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.sessionsCreated,
		c.sessionValidation,
		c.sessionCache,
		c.sessionsSwept,
		c.chatAppended,
		c.chatCleared,
		c.httpStatus,
		c.oauthLatency,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordSessionCreated はセッション発行を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordSessionValidation はセッション検証結果を記録する。
func (c *Collector) RecordSessionValidation(result string) {
	c.sessionValidation.WithLabelValues(result).Inc()
}

// RecordSessionCacheLookup はキャッシュ参照結果を記録する。
func (c *Collector) RecordSessionCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.sessionCache.WithLabelValues(result).Inc()
}

// RecordSessionsSwept は期限切れセッションの削除件数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// RecordChatAppended はメッセージ保存を記録する。
func (c *Collector) RecordChatAppended() {
	c.chatAppended.Inc()
}

// RecordChatCleared は履歴削除件数を記録する。
func (c *Collector) RecordChatCleared(count int64) {
	c.chatCleared.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordOAuthLatency はIdPとのやり取りのレイテンシを記録する。
func (c *Collector) RecordOAuthLatency(duration time.Duration) {
	c.oauthLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
// メトリクスを使わないテストやワンショットコマンドで使う。
type Nop struct{}

func (Nop) RecordLogin(string)               {}
func (Nop) RecordSessionCreated()            {}
func (Nop) RecordSessionValidation(string)   {}
func (Nop) RecordSessionCacheLookup(bool)    {}
func (Nop) RecordSessionsSwept(int64)        {}
func (Nop) RecordChatAppended()              {}
func (Nop) RecordChatCleared(int64)          {}
func (Nop) RecordHTTPStatus(int)             {}
func (Nop) RecordOAuthLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewStatusMiddleware はレスポンスのステータスコードをRecordHTTPStatusに記録するミドルウェアを返す。
func NewStatusMiddleware(c MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.RecordHTTPStatus(rec.statusCode)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
