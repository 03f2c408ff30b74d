package probe

import (
	"context"
	"time"

	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Prober polls one service until it resolves: the first successful check
// marks it healthy, exhausting the retry budget marks it unhealthy. Neither
// outcome is revisited; an unhealthy service stays unhealthy until the stack
// is restarted.
type Prober struct {
	Service string
	Checker Checker
	Params  Params
	Store   *state.Store
}

// Run blocks until the probe resolves or ctx is cancelled. The resolution is
// reported through the store; Run itself only errors on cancellation or a
// store failure.
func (p *Prober) Run(ctx context.Context) error {
	if p.Params.StartPeriod > 0 {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "probe start period")
		case <-time.After(p.Params.StartPeriod):
		}
	}

	t := time.NewTicker(p.Params.Interval)
	defer t.Stop()

	failures := 0
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Params.Timeout)
		err := p.Checker.Check(attemptCtx)
		cancel()

		if err == nil {
			log.Debug().Str("service", p.Service).Int("failures", failures).Msg("probe passed")
			return p.Store.Set(p.Service, state.StatusHealthy, "probe passed")
		}

		failures++
		log.Debug().Str("service", p.Service).Int("failures", failures).Err(err).Msg("probe failed")
		if failures >= p.Params.Retries {
			return p.Store.Set(p.Service, state.StatusUnhealthy, "probe retry budget exhausted")
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "probe loop")
		case <-t.C:
		}
	}
}
