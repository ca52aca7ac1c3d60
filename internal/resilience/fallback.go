package resilience

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/multierr"
)

// Fallback is an alternative source tried after the primary gives up.
// Lower priorities run first.
type Fallback[T any] struct {
	Name     string
	Priority int
	Call     Operation[T]
}

// ExecuteWithFallbacks runs primary through the retry logic and, when it
// gives up, each fallback in ascending priority order. The first success is
// returned with Source set to the source that produced it. When every
// source fails the result is a *FallbackError combining all of them.
func ExecuteWithFallbacks[T any](ctx context.Context, e *Executor, primary Fallback[T], fallbacks []Fallback[T], opts ...CallOption) (Result[T], error) {
	ordered := make([]Fallback[T], len(fallbacks))
	copy(ordered, fallbacks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	cfg := callConfig{operation: "call"}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		combined  error
		sources   []string
		attempts  int
		lastClass Class
		zero      Result[T]
	)
	start := e.now()
	sourcesToTry := append([]Fallback[T]{primary}, ordered...)
	for i, source := range sourcesToTry {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				combined = multierr.Append(combined, err)
				break
			}
			e.fallbacks.Add(1)
			e.metrics.IncFallback(cfg.operation, source.Name)
			e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
				"operation": cfg.operation,
				"source":    source.Name,
				"priority":  source.Priority,
			}), "executor.fallback")
		}

		callOpts := append(append([]CallOption{}, opts...), withSource(source.Name))
		result, err := Execute(ctx, e, source.Call, callOpts...)
		if err == nil {
			result.FallbackUsed = i > 0
			result.Attempts += attempts
			result.Elapsed = e.now().Sub(start)
			return result, nil
		}

		sources = append(sources, source.Name)
		combined = multierr.Append(combined, err)
		lastClass = ClassOf(err)
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			attempts += execErr.Attempts
		}
	}

	return zero, &FallbackError{
		Operation: cfg.operation,
		Class:     lastClass,
		Sources:   sources,
		Attempts:  attempts,
		Elapsed:   e.now().Sub(start),
		Err:       combined,
	}
}
