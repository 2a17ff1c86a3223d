package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily はレジストリから指定名のメトリクスを取得する。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// counterByLabel はラベル値ごとのカウンタ値を返す。
func counterByLabel(mf *dto.MetricFamily) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		label := ""
		if len(m.GetLabel()) > 0 {
			label = m.GetLabel()[0].GetValue()
		}
		out[label] = m.GetCounter().GetValue()
	}
	return out
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordLogin_CountsByOutcome はログイン結果がラベル別に集計されることを検証する。
func TestRecordLogin_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin(LoginSuccess)
	c.RecordLogin(LoginSuccess)
	c.RecordLogin(LoginProtocolError)

	got := counterByLabel(findMetricFamily(t, reg, "scholarly_logins_total"))
	if got[LoginSuccess] != 2 {
		t.Errorf("logins_total{outcome=success} = %v, want 2", got[LoginSuccess])
	}
	if got[LoginProtocolError] != 1 {
		t.Errorf("logins_total{outcome=protocol_error} = %v, want 1", got[LoginProtocolError])
	}
}

// TestRecordSessionValidation_CountsByResult はセッション検証結果がラベル別に集計されることを検証する。
func TestRecordSessionValidation_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionValidation(SessionValid)
	c.RecordSessionValidation(SessionExpired)
	c.RecordSessionValidation(SessionExpired)
	c.RecordSessionValidation(SessionMissing)

	got := counterByLabel(findMetricFamily(t, reg, "scholarly_session_validations_total"))
	want := map[string]float64{SessionValid: 1, SessionExpired: 2, SessionMissing: 1}
	for label, v := range want {
		if got[label] != v {
			t.Errorf("session_validations_total{result=%s} = %v, want %v", label, got[label], v)
		}
	}
}

// TestRecordSessionCacheLookup_HitAndMiss はキャッシュのヒット・ミスが区別されることを検証する。
func TestRecordSessionCacheLookup_HitAndMiss(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionCacheLookup(true)
	c.RecordSessionCacheLookup(false)
	c.RecordSessionCacheLookup(false)

	got := counterByLabel(findMetricFamily(t, reg, "scholarly_session_cache_lookups_total"))
	if got["hit"] != 1 || got["miss"] != 2 {
		t.Errorf("cache lookups = %v, want hit=1 miss=2", got)
	}
}

// TestRecordCounters_Accumulate はセッション・チャット系カウンタが加算されることを検証する。
func TestRecordCounters_Accumulate(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionCreated()
	c.RecordSessionsSwept(4)
	c.RecordSessionsSwept(1)
	c.RecordChatAppended()
	c.RecordChatAppended()
	c.RecordChatCleared(7)

	tests := []struct {
		name string
		want float64
	}{
		{"scholarly_sessions_created_total", 1},
		{"scholarly_sessions_swept_total", 5},
		{"scholarly_chat_messages_appended_total", 2},
		{"scholarly_chat_messages_cleared_total", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mf := findMetricFamily(t, reg, tt.name)
			if v := mf.GetMetric()[0].GetCounter().GetValue(); v != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, v, tt.want)
			}
		})
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(401)

	got := counterByLabel(findMetricFamily(t, reg, "scholarly_http_status_total"))
	if len(got) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(got))
	}
	if got["200"] != 2 {
		t.Errorf("http_status_total{status_code=200} = %v, want 2", got["200"])
	}
	if got["401"] != 1 {
		t.Errorf("http_status_total{status_code=401} = %v, want 1", got["401"])
	}
}

// TestRecordOAuthLatency_ObservesHistogram はレイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordOAuthLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOAuthLatency(100 * time.Millisecond)
	c.RecordOAuthLatency(2 * time.Second)

	h := findMetricFamily(t, reg, "scholarly_oauth_exchange_latency_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin(LoginSuccess)
	c.RecordSessionValidation(SessionValid)
	c.RecordHTTPStatus(200)
	c.RecordOAuthLatency(500 * time.Millisecond)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"scholarly_logins_total",
		"scholarly_session_validations_total",
		"scholarly_http_status_total",
		"scholarly_oauth_exchange_latency_seconds",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorとNopがMetricsCollectorを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
	var _ MetricsCollector = Nop{}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordSessionCreated()
	c2.RecordSessionCreated()
	c2.RecordSessionCreated()

	v1 := findMetricFamily(t, reg1, "scholarly_sessions_created_total").GetMetric()[0].GetCounter().GetValue()
	v2 := findMetricFamily(t, reg2, "scholarly_sessions_created_total").GetMetric()[0].GetCounter().GetValue()
	if v1 != 1 {
		t.Errorf("reg1 sessions_created = %v, want 1", v1)
	}
	if v2 != 2 {
		t.Errorf("reg2 sessions_created = %v, want 2", v2)
	}
}
