package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.Inc(EventPeerJoined)
	m.Inc(EventPeerJoined)
	m.Inc(EventDropRateLimited)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `securecall_relay_events_total{event="peer_joined"} 2`) {
		t.Errorf("missing peer_joined counter:\n%s", body)
	}
	if !strings.Contains(body, `securecall_relay_events_total{event="drop_rate_limited"} 1`) {
		t.Errorf("missing drop_rate_limited counter:\n%s", body)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type=%q", rec.Header().Get("Content-Type"))
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Inc("x")
	if m.Get("x") != 0 {
		t.Error("nil metrics should read zero")
	}
}
