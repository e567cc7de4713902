package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-go/vai-live/pkg/core/live"
)

func TestMetrics_StatusGaugeTracksCurrentStatus(t *testing.T) {
	m := New("")

	m.StatusChanged(live.StatusConnecting)
	m.StatusChanged(live.StatusConnected)

	want := map[string]float64{"idle": 0, "connecting": 0, "connected": 1, "error": 0}
	for status, v := range want {
		if got := testutil.ToFloat64(m.Status.WithLabelValues(status)); got != v {
			t.Fatalf("status{%s}=%v, want %v", status, got, v)
		}
	}
	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("connected")); got != 1 {
		t.Fatalf("transitions{connected}=%v, want 1", got)
	}
}

func TestMetrics_ObserverCounters(t *testing.T) {
	m := New("test")

	m.ChunkSent(8192)
	m.ChunkSent(8192)
	m.ChunkDropped(live.DropBackpressure)
	m.AudioScheduled(250 * time.Millisecond)
	m.AudioScheduled(500 * time.Millisecond)
	m.DecodeFailed()
	m.Interrupted(3)
	m.TurnComplete()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"chunks sent", testutil.ToFloat64(m.ChunksSent), 2},
		{"bytes sent", testutil.ToFloat64(m.BytesSent), 16384},
		{"dropped backpressure", testutil.ToFloat64(m.ChunksDropped.WithLabelValues(live.DropBackpressure)), 1},
		{"scheduled seconds", testutil.ToFloat64(m.ScheduledSeconds), 0.75},
		{"decode failures", testutil.ToFloat64(m.DecodeFailures), 1},
		{"interruptions", testutil.ToFloat64(m.Interruptions), 1},
		{"sources stopped", testutil.ToFloat64(m.SourcesStopped), 3},
		{"turns", testutil.ToFloat64(m.TurnsCompleted), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s=%v, want %v", c.name, c.got, c.want)
		}
	}
	if n := testutil.CollectAndCount(m.ChunkDuration); n != 1 {
		t.Fatalf("histogram series=%d, want 1", n)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "test_chunks_sent_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("registry missing test_chunks_sent_total")
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New("")
	m.ChunkSent(10)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	if code != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz=%d %q, want 200 ok", code, body)
	}
	code, body = get("/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics status=%d, want 200", code)
	}
	for _, want := range []string{"vai_live_chunks_sent_total 1", `vai_live_status{status="idle"} 1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics body missing %q:\n%s", want, body)
		}
	}
}
