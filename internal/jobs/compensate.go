package jobs

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

// step is one persistence action and the action that reverses it.
type step struct {
	name  string
	apply func(ctx context.Context) error
	undo  func(ctx context.Context) error
}

// compensator runs steps in order. When a step fails the steps already
// applied are undone in reverse order before the error is returned.
type compensator struct {
	logg *logger.Logger
}

func (c compensator) run(ctx context.Context, steps []step) error {
	applied := make([]step, 0, len(steps))
	for _, s := range steps {
		if err := s.apply(ctx); err != nil {
			err = fmt.Errorf("%s: %w", s.name, err)
			return multierr.Append(err, c.rollback(ctx, applied))
		}
		applied = append(applied, s)
	}
	return nil
}

func (c compensator) rollback(ctx context.Context, applied []step) error {
	ctx = context.WithoutCancel(ctx)
	var errs error
	for i := len(applied) - 1; i >= 0; i-- {
		s := applied[i]
		if s.undo == nil {
			continue
		}
		if err := s.undo(ctx); err != nil {
			c.logg.Error(c.logg.WithField(ctx, "step", s.name), "jobs.compensation_failed", err)
			errs = multierr.Append(errs, fmt.Errorf("undo %s: %w", s.name, err))
			continue
		}
		c.logg.Warn(c.logg.WithField(ctx, "step", s.name), "jobs.step_compensated")
	}
	return errs
}
