package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"tick-oracle/internal/config"
	"tick-oracle/internal/domain"
	"tick-oracle/internal/job"
)

type stubQuoteSource struct{}

func (stubQuoteSource) Fetch(_ context.Context, inst domain.Instrument) (domain.PriceSample, error) {
	return domain.PriceSample{Symbol: inst.Symbol, Timestamp: time.Now().UTC(), Price: 12.5}, nil
}

func stubSource(t *testing.T) {
	t.Helper()
	t.Setenv("SYMBOLS", "")
	orig := newQuoteSourceFunc
	newQuoteSourceFunc = func(trace.Tracer, *config.Config) job.QuoteFetcher { return stubQuoteSource{} }
	t.Cleanup(func() { newQuoteSourceFunc = orig })
}

func TestRootCommandRunsREPL(t *testing.T) {
	stubSource(t)
	t.Setenv("FINNHUB_API_KEY", "test")

	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--symbols", "GGAL:stock", "--poll", "1", "--log-level", "error"})
	cmd.SetIn(strings.NewReader("help\nquit\n"))
	cmd.SetOut(out)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Available commands") || !strings.Contains(out.String(), "Goodbye!") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRunRequiresFinnhubKeyForStocks(t *testing.T) {
	stubSource(t)
	t.Setenv("FINNHUB_API_KEY", "")

	err := run(context.Background(), options{symbols: "GGAL:stock", logLevel: "error"}, strings.NewReader(""), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "FINNHUB_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestRunCryptoOnlyNeedsNoKey(t *testing.T) {
	stubSource(t)
	t.Setenv("FINNHUB_API_KEY", "")

	err := run(context.Background(), options{symbols: "BTCUSDT:crypto", logLevel: "error"}, strings.NewReader("quit\n"), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
