package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.SetReachable(3)
	c.FrameReceived("auth")
	c.FrameReceived("message")
	c.FrameReceived("message")
	c.FrameRejected("unauthenticated")
	c.MessagePersisted("direct", 0.002)
	c.RecordDelivery(DeliveryDelivered, 2)
	c.RecordDelivery(DeliveryOffline, 1)
	c.RecordDelivery(DeliveryDropped, 0)
	c.AckQueued()

	if got := testutil.ToFloat64(c.connections); got != 1 {
		t.Errorf("connections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.reachable); got != 3 {
		t.Errorf("reachable = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.frames.WithLabelValues("message")); got != 2 {
		t.Errorf("message frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.deliveries.WithLabelValues(DeliveryDelivered)); got != 2 {
		t.Errorf("delivered = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(c.deliveries); got != 2 {
		t.Errorf("expected 2 delivery series (zero adds are skipped), got %d", got)
	}
	if got := testutil.ToFloat64(c.acks); got != 1 {
		t.Errorf("acks = %v, want 1", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector

	c.ConnectionOpened()
	c.ConnectionClosed()
	c.SetReachable(1)
	c.FrameReceived("auth")
	c.FrameRejected("x")
	c.MessagePersisted("room", 1)
	c.RecordDelivery(DeliveryDelivered, 1)
	c.AckQueued()

	if c.Registry() != nil {
		t.Error("nil collector should have no registry")
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 from nil collector handler, got %d", rec.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("livechat", nil)
	c.AckQueued()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "livechat_acks_total 1") {
		t.Errorf("metrics output missing ack counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing runtime collector")
	}
}
