package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"tick-oracle/internal/domain"
)

const binanceBaseURL = "https://api.binance.com"

// BinanceProvider fetches crypto 24h tickers from the public API. No key needed.
type BinanceProvider struct {
	client  *resty.Client
	tracer  trace.Tracer
	limiter *rate.Limiter
	now     func() time.Time
}

func NewBinanceProvider(tracer trace.Tracer) *BinanceProvider {
	client := resty.New()
	client.SetBaseURL(binanceBaseURL)
	client.SetTimeout(5 * time.Second)
	client.SetHeader("Accept", "application/json")

	return &BinanceProvider{
		client:  client,
		tracer:  tracer,
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		now:     time.Now,
	}
}

// Binance encodes numbers as strings.
type binanceTicker struct {
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	OpenPrice          string `json:"openPrice"`
	Volume             string `json:"volume"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
}

func (p *BinanceProvider) FetchQuote(ctx context.Context, symbol string) (domain.PriceSample, error) {
	ctx, span := p.tracer.Start(ctx, "binance.fetch-ticker")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	if err := p.limiter.Wait(ctx); err != nil {
		return domain.PriceSample{}, fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		Get("/api/v3/ticker/24hr")
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("binance %s: %w", symbol, err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return domain.PriceSample{}, fmt.Errorf("binance %s: %w", symbol, ErrRateLimited)
	}
	if resp.StatusCode() != http.StatusOK {
		return domain.PriceSample{}, fmt.Errorf("binance %s: http %d", symbol, resp.StatusCode())
	}

	var t binanceTicker
	if err := json.Unmarshal(resp.Body(), &t); err != nil {
		return domain.PriceSample{}, fmt.Errorf("binance %s: invalid response: %w", symbol, err)
	}
	price := parseNumber(t.LastPrice)
	if price <= 0 {
		return domain.PriceSample{}, ErrNoSample
	}
	volume := parseNumber(t.Volume)

	return domain.PriceSample{
		Symbol:    symbol,
		Timestamp: p.now().UTC(),
		Price:     price,
		Open:      parseNumber(t.OpenPrice),
		High:      parseNumber(t.HighPrice),
		Low:       parseNumber(t.LowPrice),
		Change:    parseNumber(t.PriceChange),
		ChangePct: parseNumber(t.PriceChangePercent),
		Volume:    &volume,
	}, nil
}

func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
