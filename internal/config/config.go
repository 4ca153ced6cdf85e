package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tick-oracle/internal/domain"
)

type Config struct {
	Instruments   []domain.Instrument
	FinnhubAPIKey string

	PollIntervalSecs     int
	ForecastIntervalSecs int
	HistoryCapacity      int
	TrackerCapacity      int
	HorizonsMin          []int
	TrackedHorizonMin    int

	EnsembleStrategy        string
	EnsembleWeightKalman    float64
	ValidationToleranceSecs int
	SignalThresholdPct      float64
	SignalIndicatorOverlay  bool
	KalmanProcessNoise      float64
	KalmanMeasurementNoise  float64
	PredictionMaxAgeHours   int

	HTTPPort         int
	APIKey           string
	DatabaseURL      string
	RedisURL         string
	TelegramBotToken string

	LogLevel  string
	LogFormat string
}

const defaultSymbols = "GGAL:stock"

func Load() *Config {
	cfg := &Config{
		FinnhubAPIKey:    os.Getenv("FINNHUB_API_KEY"),
		APIKey:           strings.TrimSpace(os.Getenv("API_KEY")),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	raw := strings.TrimSpace(os.Getenv("SYMBOLS"))
	if raw == "" {
		raw = defaultSymbols
	}
	cfg.Instruments = domain.ParseInstruments(raw)
	if len(cfg.Instruments) == 0 {
		log.Warn().Str("symbols", raw).Msg("no valid SYMBOLS, defaulting to " + defaultSymbols)
		cfg.Instruments = domain.ParseInstruments(defaultSymbols)
	}

	for _, inst := range cfg.Instruments {
		if inst.Source == domain.SourceStock && cfg.FinnhubAPIKey == "" {
			log.Warn().Msg("FINNHUB_API_KEY not set, stock quotes will fail")
			break
		}
	}
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, validated predictions will not be archived")
	}
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set, forecast snapshots will not be cached")
	}
	if cfg.TelegramBotToken == "" {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, bot disabled")
	}
	if cfg.APIKey == "" {
		log.Warn().Msg("API_KEY not set, ensemble weight updates are disabled")
	}

	cfg.PollIntervalSecs = positiveInt("POLL_INTERVAL_SECS", 10)
	cfg.ForecastIntervalSecs = positiveInt("FORECAST_INTERVAL_SECS", 60)
	cfg.HistoryCapacity = positiveInt("HISTORY_CAPACITY", 1000)
	cfg.TrackerCapacity = positiveInt("TRACKER_CAPACITY", 100)
	cfg.TrackedHorizonMin = positiveInt("TRACKED_HORIZON_MIN", 5)
	cfg.ValidationToleranceSecs = positiveInt("VALIDATION_TOLERANCE_SECS", 30)
	cfg.PredictionMaxAgeHours = positiveInt("PREDICTION_MAX_AGE_HOURS", 24)
	cfg.HTTPPort = positiveInt("HTTP_PORT", 8080)

	cfg.HorizonsMin = []int{1, 5, 10}
	if v := strings.TrimSpace(os.Getenv("FORECAST_HORIZONS_MIN")); v != "" {
		var horizons []int
		for _, part := range strings.Split(v, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && n > 0 {
				horizons = append(horizons, n)
			}
		}
		if len(horizons) > 0 {
			cfg.HorizonsMin = horizons
		} else {
			log.Warn().Str("value", v).Msg("invalid FORECAST_HORIZONS_MIN, using 1,5,10")
		}
	}
	tracked := false
	for _, h := range cfg.HorizonsMin {
		tracked = tracked || h == cfg.TrackedHorizonMin
	}
	if !tracked {
		cfg.HorizonsMin = append(cfg.HorizonsMin, cfg.TrackedHorizonMin)
	}

	cfg.EnsembleStrategy = strings.ToLower(strings.TrimSpace(os.Getenv("ENSEMBLE_STRATEGY")))
	if cfg.EnsembleStrategy == "" {
		cfg.EnsembleStrategy = "weighted"
	}
	if cfg.EnsembleStrategy != "weighted" && cfg.EnsembleStrategy != "median" {
		log.Warn().Str("value", cfg.EnsembleStrategy).Msg("unsupported ENSEMBLE_STRATEGY, defaulting to weighted")
		cfg.EnsembleStrategy = "weighted"
	}

	cfg.EnsembleWeightKalman = 0.4
	if v := strings.TrimSpace(os.Getenv("ENSEMBLE_WEIGHT_KALMAN")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 && n <= 1 {
			cfg.EnsembleWeightKalman = n
		}
	}

	cfg.SignalThresholdPct = positiveFloat("SIGNAL_THRESHOLD_PCT", 0.3)
	if v := strings.TrimSpace(os.Getenv("SIGNAL_INDICATOR_OVERLAY")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SignalIndicatorOverlay = b
		} else {
			log.Warn().Str("value", v).Msg("invalid SIGNAL_INDICATOR_OVERLAY, overlay disabled")
		}
	}
	cfg.KalmanProcessNoise = positiveFloat("KALMAN_PROCESS_NOISE", 1e-4)
	cfg.KalmanMeasurementNoise = positiveFloat("KALMAN_MEASUREMENT_NOISE", 0.01)

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if cfg.LogFormat != "console" {
		cfg.LogFormat = "json"
	}

	return cfg
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

func (c *Config) ForecastInterval() time.Duration {
	return time.Duration(c.ForecastIntervalSecs) * time.Second
}

func (c *Config) Horizons() []time.Duration {
	out := make([]time.Duration, len(c.HorizonsMin))
	for i, m := range c.HorizonsMin {
		out[i] = time.Duration(m) * time.Minute
	}
	return out
}

func (c *Config) TrackedHorizon() time.Duration {
	return time.Duration(c.TrackedHorizonMin) * time.Minute
}

func (c *Config) ValidationTolerance() time.Duration {
	return time.Duration(c.ValidationToleranceSecs) * time.Second
}

func (c *Config) PredictionMaxAge() time.Duration {
	return time.Duration(c.PredictionMaxAgeHours) * time.Hour
}

func positiveInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("invalid integer, using default")
	}
	return def
}

func positiveFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Float64("default", def).Msg("invalid number, using default")
	}
	return def
}
