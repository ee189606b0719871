package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve(":0", nil)
	defer srv.Close()

	TicksTotal.WithLabelValues("BTCUSDT").Inc()
	CyclesTotal.WithLabelValues("BTCUSDT", "executed").Inc()
	StageFailuresTotal.WithLabelValues("BTCUSDT", "fetching").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	want := map[string]bool{"ticks_total": false, "cycles_total": false, "stage_failures_total": false}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("%s metric not found", name)
		}
	}
}

func TestStatusHandler(t *testing.T) {
	handler := StatusHandler(func() any { return map[string]int{"trades": 3} })
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if body["trades"] != 3 {
		t.Fatalf("unexpected status body %s", rec.Body.String())
	}
}
