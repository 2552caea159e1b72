package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(LogOptions{Level: "info", Format: "json", Output: &buf})
	logger.Info("hello", "run_id", "wf-1")

	if !strings.Contains(buf.String(), `"run_id":"wf-1"`) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	logger = SetupLogger(LogOptions{Level: "info", Format: "text", Output: &buf})
	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered at info level: %q", out)
	}
	if !strings.Contains(out, "msg=shown") {
		t.Errorf("expected text output, got %q", out)
	}
}

func TestFromContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)

	if FromContext(ctx) != logger {
		t.Error("FromContext should return stored logger")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Error("FromContext should fall back to default logger")
	}
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RunStarted()
	m.RunStarted()
	m.RunFinished("completed")
	m.StepAttempt("log_activity", "success", 10*time.Millisecond)
	m.RouteDecision("completeness")

	if got := gatherValue(t, reg, "conduit_active_runs"); got != 1 {
		t.Errorf("active runs = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "conduit_runs_finished_total"); got != 1 {
		t.Errorf("finished = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "conduit_route_decisions_total"); got != 1 {
		t.Errorf("route decisions = %v, want 1", got)
	}
}

// gatherValue возвращает сумму значений counter/gauge метрики.
func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			sum += metric.GetCounter().GetValue() + metric.GetGauge().GetValue()
		}
	}
	return sum
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RunStarted()
	m.RunFinished("failed")
	m.StepAttempt("x", "error", time.Second)
	m.RouteDecision("default")
	m.HTTPRequest("GET", "2xx")
	m.ScheduleFired()
}
