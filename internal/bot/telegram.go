package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/monitor"
)

var newBotFunc = tele.NewBot

// StartTelegramBot serves /price, /forecast, /signal and /metrics from the
// monitor registry until ctx is cancelled. An empty token disables the bot.
func StartTelegramBot(ctx context.Context, token string, registry *monitor.Registry) error {
	if token == "" {
		log.Info().Msg("telegram bot token not set, skipping bot startup")
		return nil
	}
	b, err := newBotFunc(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})
	for _, cmd := range []string{"price", "forecast", "signal", "metrics"} {
		cmd := cmd
		b.Handle("/"+cmd, func(c tele.Context) error {
			return c.Send(Reply(registry, cmd, c.Args()))
		})
	}

	log.Info().Msg("telegram bot started")
	go b.Start()
	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	return nil
}

// Reply renders the plain-text answer to a bot command.
func Reply(registry *monitor.Registry, cmd string, args []string) string {
	supported := strings.Join(registry.Symbols(), ", ")
	if len(args) == 0 {
		return fmt.Sprintf("Usage: /%s SYMBOL\nSupported: %s", cmd, supported)
	}
	m, err := registry.Get(args[0])
	if err != nil {
		return fmt.Sprintf("Unknown symbol: %s\nSupported: %s", strings.ToUpper(args[0]), supported)
	}
	sym := m.Symbol()

	switch cmd {
	case "price":
		last, ok := m.Last()
		if !ok {
			return sym + ": collecting price data"
		}
		return fmt.Sprintf("%s\nPrice: $%.2f\nChange: %.2f%%\nUpdated: %s",
			sym, last.Price, last.ChangePct, last.Timestamp.UTC().Format(time.RFC3339))

	case "forecast":
		if len(args) > 1 {
			minutes, err := strconv.ParseFloat(args[1], 64)
			if err != nil || minutes <= 0 {
				return "Horizon must be a positive number of minutes"
			}
			f, ok := m.LatestForecast(time.Duration(minutes * float64(time.Minute)))
			if !ok {
				return fmt.Sprintf("%s: no %s-minute forecast yet", sym, args[1])
			}
			return formatForecast(f)
		}
		fs := m.LatestForecasts()
		if len(fs) == 0 {
			return sym + ": collecting price data"
		}
		lines := make([]string, 0, len(fs))
		for _, f := range fs {
			lines = append(lines, formatForecast(f))
		}
		return strings.Join(lines, "\n\n")

	case "signal":
		s, ok := m.LatestSignal()
		if !ok {
			return sym + ": collecting price data"
		}
		return fmt.Sprintf("%s %s (strength %d/100, %s confidence)\nExpected move: %+.2f%%\n%s",
			sym, s.Action, s.Strength, s.Confidence, s.PriceChangeForecast, s.Reason)

	case "metrics":
		acc := m.Accuracy()
		if acc.Metrics == nil {
			return fmt.Sprintf("%s: %d predictions tracked, none validated yet", sym, acc.TotalPredictions)
		}
		v := acc.Metrics.Rounded()
		return fmt.Sprintf("%s accuracy (%d validated)\nMAPE: %.2f%%\nDirection: %.1f%%\nCoverage: %.1f%%\nEffectiveness: %.1f/100\n%s",
			sym, acc.ValidatedPredictions, v.MAPE, v.DirectionalAccuracy, v.IntervalCoverage, v.EffectivenessIndex, acc.Summary)
	}
	return "Unknown command: /" + cmd
}

func formatForecast(f domain.Forecast) string {
	return fmt.Sprintf("%s %.0fm: $%.2f (%+.2f%%, %s)\n95%%: $%.2f - $%.2f, %s confidence",
		f.Symbol, f.HorizonMinutes(), f.Prediction, f.PriceChangePct, f.Trend,
		f.LowerBound, f.UpperBound, f.Confidence)
}
