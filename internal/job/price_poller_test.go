package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/metrics"
	"tick-oracle/internal/monitor"
	"tick-oracle/internal/provider"
)

func newTestRegistry(t *testing.T, symbols ...string) *monitor.Registry {
	t.Helper()
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	var monitors []*monitor.Monitor
	for _, sym := range symbols {
		m, err := monitor.New(tracer, monitor.Config{
			Instrument: domain.Instrument{Symbol: sym, Source: domain.SourceStock},
			Strategy:   "weighted",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		monitors = append(monitors, m)
	}
	return monitor.NewRegistry(monitors...)
}

type stubSource struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
	price float64
}

func (s *stubSource) Fetch(_ context.Context, inst domain.Instrument) (domain.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[inst.Symbol]++
	if s.err != nil {
		return domain.PriceSample{}, s.err
	}
	return domain.PriceSample{
		Symbol:    inst.Symbol,
		Timestamp: time.Now().UTC(),
		Price:     s.price,
	}, nil
}

func (s *stubSource) count(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[symbol]
}

func TestNewPricePollerDefaults(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	poller := NewPricePoller(tracer, &stubSource{}, newTestRegistry(t, "GGAL"), 0, nil)
	if poller.interval != DefaultPollInterval {
		t.Fatalf("expected default interval, got %v", poller.interval)
	}
}

func TestPricePollerStartAndWait(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	src := &stubSource{price: 42}
	reg := newTestRegistry(t, "GGAL", "YPF")
	poller := NewPricePoller(tracer, src, reg, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go poller.Start(ctx)

	eventually(t, func() bool { return src.count("GGAL") > 0 && src.count("YPF") > 0 })
	cancel()
	if !poller.Wait(time.Second) {
		t.Fatal("poller did not stop")
	}

	m, _ := reg.Get("GGAL")
	last, ok := m.Last()
	if !ok || last.Price != 42 {
		t.Fatalf("expected ingested sample, got %+v (%v)", last, ok)
	}
}

func TestPricePollerWaitTimesOutWhenRunning(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	poller := NewPricePoller(tracer, &stubSource{price: 1}, newTestRegistry(t, "GGAL"), time.Hour, nil)
	if poller.Wait(10 * time.Millisecond) {
		t.Fatal("expected wait to time out before start")
	}
}

func TestPollOnceErrors(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	reg := newTestRegistry(t, "GGAL")
	m, _ := reg.Get("GGAL")
	rec := metrics.New(prometheus.NewRegistry())

	src := &stubSource{err: errors.New("boom")}
	poller := NewPricePoller(tracer, src, reg, time.Hour, rec)
	poller.pollOnce(context.Background(), m)
	poller.pollOnce(context.Background(), m)
	if got := poller.errors.Consecutive("GGAL"); got != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", got)
	}

	src.err = provider.ErrNoSample
	poller.pollOnce(context.Background(), m)
	if got := poller.errors.Consecutive("GGAL"); got != 2 {
		t.Fatalf("no-sample must not count as failure, got %d", got)
	}
	if len(m.History(0)) != 0 {
		t.Fatal("no sample should be ingested")
	}

	src.err = nil
	src.price = 10
	poller.pollOnce(context.Background(), m)
	if got := poller.errors.Consecutive("GGAL"); got != 0 {
		t.Fatalf("success should reset failures, got %d", got)
	}
}

func TestPollOnceDropsInvalidPrice(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	reg := newTestRegistry(t, "GGAL")
	m, _ := reg.Get("GGAL")
	poller := NewPricePoller(tracer, &stubSource{price: 0}, reg, time.Hour, nil)

	poller.pollOnce(context.Background(), m)
	if _, ok := m.Last(); ok {
		t.Fatal("zero price must not enter history")
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
