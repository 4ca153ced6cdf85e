package job

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tick-oracle/internal/monitor"
)

// runner fans a per-monitor loop out over an errgroup and signals done once
// every loop has returned.
type runner struct {
	name string
	done chan struct{}
}

func newRunner(name string) runner {
	return runner{name: name, done: make(chan struct{})}
}

// run blocks until ctx is cancelled and all loops have exited.
func (r runner) run(ctx context.Context, monitors []*monitor.Monitor, interval time.Duration, fn func(context.Context, *monitor.Monitor)) {
	defer close(r.done)

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range monitors {
		m := m
		g.Go(func() error {
			every(gctx, interval, func(ctx context.Context) {
				r.safe(ctx, m, fn)
			})
			return nil
		})
	}
	_ = g.Wait()
	log.Info().Str("job", r.name).Msg("job stopped")
}

// wait reports whether the loops stopped within timeout.
func (r runner) wait(timeout time.Duration) bool {
	select {
	case <-r.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (r runner) safe(ctx context.Context, m *monitor.Monitor, fn func(context.Context, *monitor.Monitor)) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("job", r.name).
				Str("symbol", m.Symbol()).
				Err(fmt.Errorf("panic: %v", rec)).
				Msg("job iteration panicked")
		}
	}()
	fn(ctx, m)
}

// every runs fn immediately and then on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
