package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"tick-oracle/internal/config"
	"tick-oracle/internal/domain"
	"tick-oracle/internal/job"
	"tick-oracle/internal/monitor"
	"tick-oracle/internal/provider"
	"tick-oracle/internal/repl"
	"tick-oracle/pkg/logger"
)

var newQuoteSourceFunc = func(tracer trace.Tracer, cfg *config.Config) job.QuoteFetcher {
	return provider.NewRouter(
		provider.NewFinnhubProvider(tracer, cfg.FinnhubAPIKey),
		provider.NewBinanceProvider(tracer),
	)
}

type options struct {
	symbols      string
	pollSecs     int
	forecastSecs int
	logLevel     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "tick-oracle-repl",
		Short: "Interactive price forecasting monitor",
		Long: `tick-oracle-repl polls quotes in the background, forecasts every minute and
answers status, forecast, signal, stats, metrics and history commands.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.symbols, "symbols", "", "Instruments to watch, e.g. GGAL:stock,BTCUSDT:crypto (default from SYMBOLS)")
	cmd.Flags().IntVar(&opts.pollSecs, "poll", 0, "Quote poll interval in seconds (default from POLL_INTERVAL_SECS)")
	cmd.Flags().IntVar(&opts.forecastSecs, "forecast-interval", 0, "Forecast interval in seconds (default from FORECAST_INTERVAL_SECS)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level for background jobs")
	return cmd
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	_ = godotenv.Load()
	if opts.symbols != "" {
		os.Setenv("SYMBOLS", opts.symbols)
	}
	logger.Init(opts.logLevel, "console")
	cfg := config.Load()
	if opts.pollSecs > 0 {
		cfg.PollIntervalSecs = opts.pollSecs
	}
	if opts.forecastSecs > 0 {
		cfg.ForecastIntervalSecs = opts.forecastSecs
	}

	if cfg.FinnhubAPIKey == "" {
		for _, inst := range cfg.Instruments {
			if inst.Source == domain.SourceStock {
				return errors.New("FINNHUB_API_KEY not set; get a free key at https://finnhub.io")
			}
		}
	}

	tracer := noop.NewTracerProvider().Tracer("tick-oracle-repl")
	registry, err := monitor.NewRegistryFromConfig(tracer, cfg, monitor.Deps{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	poller := job.NewPricePoller(tracer, newQuoteSourceFunc(tracer, cfg), registry, cfg.PollInterval(), nil)
	forecaster := job.NewForecastJob(tracer, registry, cfg.ForecastInterval(), cfg.PredictionMaxAge())
	go poller.Start(ctx)
	go forecaster.Start(ctx)

	err = repl.New(registry, in, out).Run(ctx)

	cancel()
	poller.Wait(2 * time.Second)
	forecaster.Wait(2 * time.Second)
	return err
}
