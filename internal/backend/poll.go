package backend

import (
	"context"
	"errors"

	"github.com/elisa-tech/BASIL-sub001/internal/exitcode"
)

// CheckFunc inspects the remote job once. It returns the normalized outcome
// of the job; OutcomePending keeps polling. Returning an *exitcode.Error
// stops polling; any other error is logged and retried.
type CheckFunc func(ctx context.Context, iteration int) (Outcome, error)

// Poll calls check until it reports a terminal outcome, waiting
// Env.PollInterval between calls. There is no iteration limit: only ctx
// bounds the loop.
func (b *Base) Poll(ctx context.Context, check CheckFunc) (Outcome, error) {
	name := b.kind.String()
	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return OutcomePending, err
		}

		pollsTotal.WithLabelValues(name).Inc()
		outcome, err := check(ctx, iteration)
		switch {
		case err != nil:
			var fatal *exitcode.Error
			if errors.As(err, &fatal) {
				return OutcomePending, err
			}
			if ctx.Err() != nil {
				return OutcomePending, ctx.Err()
			}
			pollErrorsTotal.WithLabelValues(name).Inc()
			b.Logf("Poll %d failed, retrying in %s: %v", iteration, b.env.PollInterval, err)
			b.Propagate()
			b.logger.Warn("poll failed", "iteration", iteration, "error", err)
		case outcome.Terminal():
			return outcome, nil
		}

		if err := b.env.Wait(ctx, b.env.PollInterval); err != nil {
			return OutcomePending, err
		}
	}
}
