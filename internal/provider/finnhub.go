package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"tick-oracle/internal/domain"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

var (
	ErrUnauthorized = errors.New("invalid api key")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// FinnhubProvider fetches stock quotes. The free tier allows 60 calls per minute.
type FinnhubProvider struct {
	client  *resty.Client
	apiKey  string
	tracer  trace.Tracer
	limiter *rate.Limiter
	now     func() time.Time
}

func NewFinnhubProvider(tracer trace.Tracer, apiKey string) *FinnhubProvider {
	client := resty.New()
	client.SetBaseURL(finnhubBaseURL)
	client.SetTimeout(5 * time.Second)
	client.SetHeader("Accept", "application/json")

	return &FinnhubProvider{
		client:  client,
		apiKey:  apiKey,
		tracer:  tracer,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		now:     time.Now,
	}
}

type finnhubQuote struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Error         string  `json:"error"`
}

func (p *FinnhubProvider) FetchQuote(ctx context.Context, symbol string) (domain.PriceSample, error) {
	ctx, span := p.tracer.Start(ctx, "finnhub.fetch-quote")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	if p.apiKey == "" {
		return domain.PriceSample{}, fmt.Errorf("finnhub %s: %w", symbol, ErrUnauthorized)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.PriceSample{}, fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "token": p.apiKey}).
		Get("/quote")
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("finnhub %s: %w", symbol, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return domain.PriceSample{}, fmt.Errorf("finnhub %s: %w", symbol, ErrUnauthorized)
	case http.StatusTooManyRequests:
		return domain.PriceSample{}, fmt.Errorf("finnhub %s: %w", symbol, ErrRateLimited)
	default:
		return domain.PriceSample{}, fmt.Errorf("finnhub %s: http %d", symbol, resp.StatusCode())
	}

	var q finnhubQuote
	if err := json.Unmarshal(resp.Body(), &q); err != nil {
		return domain.PriceSample{}, fmt.Errorf("finnhub %s: invalid response: %w", symbol, err)
	}
	if q.Error != "" {
		return domain.PriceSample{}, fmt.Errorf("finnhub %s: api error: %s", symbol, q.Error)
	}
	if q.Current <= 0 {
		return domain.PriceSample{}, ErrNoSample
	}

	change := q.Current - q.PreviousClose
	changePct := 0.0
	if q.PreviousClose != 0 {
		changePct = change / q.PreviousClose * 100
	}
	return domain.PriceSample{
		Symbol:    symbol,
		Timestamp: p.now().UTC(),
		Price:     q.Current,
		Open:      q.Open,
		High:      q.High,
		Low:       q.Low,
		Change:    domain.Round(change, 2),
		ChangePct: domain.Round(changePct, 2),
	}, nil
}
