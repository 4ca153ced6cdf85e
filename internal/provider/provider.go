// Package provider fetches live quotes from the upstream price APIs.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tick-oracle/internal/domain"
)

// ErrNoSample means the source answered but had no usable price, e.g. the
// market is closed. Callers skip the cycle without counting it as a failure.
var ErrNoSample = errors.New("no price sample available")

// QuoteSource returns the latest quote for a symbol.
type QuoteSource interface {
	FetchQuote(ctx context.Context, symbol string) (domain.PriceSample, error)
}

// Router dispatches to a QuoteSource by instrument source.
type Router struct {
	sources map[domain.Source]QuoteSource
}

func NewRouter(stock, crypto QuoteSource) *Router {
	r := &Router{sources: make(map[domain.Source]QuoteSource, 2)}
	if stock != nil {
		r.sources[domain.SourceStock] = stock
	}
	if crypto != nil {
		r.sources[domain.SourceCrypto] = crypto
	}
	return r
}

func (r *Router) Fetch(ctx context.Context, inst domain.Instrument) (domain.PriceSample, error) {
	src, ok := r.sources[inst.Source]
	if !ok {
		return domain.PriceSample{}, fmt.Errorf("no quote source for %s (%s)", inst.Symbol, inst.Source)
	}
	return src.FetchQuote(ctx, inst.Symbol)
}

// ErrorTracker counts consecutive failures per symbol so callers log the
// first failure and then every Every-th one.
type ErrorTracker struct {
	Every int

	mu     sync.Mutex
	counts map[string]int
}

func NewErrorTracker(every int) *ErrorTracker {
	if every <= 0 {
		every = 5
	}
	return &ErrorTracker{Every: every, counts: make(map[string]int)}
}

// Failure records a failure and reports the consecutive count and whether
// it should be logged.
func (t *ErrorTracker) Failure(symbol string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[symbol]++
	n := t.counts[symbol]
	return n, n == 1 || n%t.Every == 0
}

func (t *ErrorTracker) Success(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, symbol)
}

func (t *ErrorTracker) Consecutive(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[symbol]
}
