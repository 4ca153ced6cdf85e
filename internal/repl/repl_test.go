package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/monitor"
)

func newTestREPL(t *testing.T, in string) (*REPL, *monitor.Monitor, *bytes.Buffer) {
	t.Helper()
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	ggal, err := monitor.New(tracer, monitor.Config{Instrument: domain.Instrument{Symbol: "GGAL", Source: domain.SourceStock}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	btc, err := monitor.New(tracer, monitor.Config{Instrument: domain.Instrument{Symbol: "BTCUSDT", Source: domain.SourceCrypto}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := &bytes.Buffer{}
	return New(monitor.NewRegistry(ggal, btc), strings.NewReader(in), out), ggal, out
}

func feed(t *testing.T, m *monitor.Monitor) {
	t.Helper()
	start := time.Now().UTC().Add(-30 * time.Minute)
	for i := 0; i < 30; i++ {
		s := domain.PriceSample{Timestamp: start.Add(time.Duration(i) * time.Minute), Price: 20 + 0.02*float64(i), Change: 0.02, ChangePct: 0.1}
		if err := m.Ingest(s); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
}

func TestExecuteWithoutData(t *testing.T) {
	r, _, _ := newTestREPL(t, "")
	cases := map[string]string{
		"status":   "Waiting for data",
		"forecast": "No forecast yet",
		"signal":   "No signal yet",
		"stats":    "No data available",
		"metrics":  "No validated predictions yet",
		"history":  "No data available",
		"bogus":    "Unknown command: bogus",
		"help":     "Available commands",
	}
	for cmd, want := range cases {
		out, quit := r.Execute(cmd)
		if quit || !strings.Contains(out, want) {
			t.Fatalf("%s: expected %q, got %q", cmd, want, out)
		}
	}
	if out, quit := r.Execute("   "); quit || out != "" {
		t.Fatalf("blank line should be ignored, got %q", out)
	}
}

func TestExecuteWithData(t *testing.T) {
	r, m, _ := newTestREPL(t, "")
	feed(t, m)

	if out, _ := r.Execute("status"); !strings.Contains(out, "$20.58") {
		t.Fatalf("unexpected status: %q", out)
	}
	if out, _ := r.Execute("forecast 10"); !strings.Contains(out, "10 min") || !strings.Contains(out, "IC 95%") {
		t.Fatalf("unexpected forecast: %q", out)
	}
	if out, _ := r.Execute("forecast 7"); !strings.Contains(out, "Invalid horizon. Use 1, 5, 10") {
		t.Fatalf("unexpected forecast error: %q", out)
	}
	if out, _ := r.Execute("sig"); !strings.Contains(out, "/100") {
		t.Fatalf("unexpected signal: %q", out)
	}
	if out, _ := r.Execute("stats"); !strings.Contains(out, "Samples:") || !strings.Contains(out, "30") {
		t.Fatalf("unexpected stats: %q", out)
	}
	if out, _ := r.Execute("h"); strings.Count(out, "\n") != historyRows {
		t.Fatalf("expected header plus %d rows, got %q", historyRows, out)
	}
}

func TestUseAndSymbols(t *testing.T) {
	r, _, _ := newTestREPL(t, "")
	if r.prompt() != "ggal> " {
		t.Fatalf("unexpected prompt: %q", r.prompt())
	}
	if out, _ := r.Execute("use btcusdt"); !strings.Contains(out, "BTCUSDT") {
		t.Fatalf("unexpected use output: %q", out)
	}
	if r.prompt() != "btcusdt> " {
		t.Fatalf("unexpected prompt: %q", r.prompt())
	}
	if out, _ := r.Execute("use nope"); !strings.Contains(out, "unknown symbol") {
		t.Fatalf("unexpected use output: %q", out)
	}
	if out, _ := r.Execute("symbols"); !strings.Contains(out, "* BTCUSDT") {
		t.Fatalf("unexpected symbols output: %q", out)
	}
}

func TestRunQuits(t *testing.T) {
	r, _, out := newTestREPL(t, "help\nquit\nstatus\n")
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Goodbye!") || strings.Contains(out.String(), "Waiting for data") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRunStopsAtEOF(t *testing.T) {
	r, _, _ := newTestREPL(t, "status\n")
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
