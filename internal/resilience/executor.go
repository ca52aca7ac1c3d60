package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/recapz-backend/pkg/logger"
	"github.com/angelmondragon/recapz-backend/pkg/metrics"
)

// Operation is a single attempt of an outbound call.
type Operation[T any] func(ctx context.Context) (T, error)

// Result describes a successful execution.
type Result[T any] struct {
	Value        T
	Attempts     int
	Elapsed      time.Duration
	Recovered    bool
	Source       string
	FallbackUsed bool
}

// Options configures an Executor. Zero values select the defaults.
type Options struct {
	Policies   map[Class]Policy
	Classifier Classifier
	Logger     *logger.Logger
	Metrics    *metrics.ExecutorMetrics
	// Sleep waits for d or until ctx is done. Tests replace it to avoid
	// real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// Random returns values in [0, 1) for jitter.
	Random func() float64
	Now    func() time.Time
}

// Executor runs operations with classification driven retries. It is safe
// for concurrent use and holds no locks while waiting.
type Executor struct {
	policies   map[Class]Policy
	classifier Classifier
	logg       *logger.Logger
	metrics    *metrics.ExecutorMetrics
	sleep      func(ctx context.Context, d time.Duration) error
	random     func() float64
	now        func() time.Time

	calls      atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	retries    atomic.Int64
	recoveries atomic.Int64
	fallbacks  atomic.Int64

	classMu sync.Mutex
	byClass map[Class]int64
}

// Stats is an exact snapshot of the executor counters.
type Stats struct {
	Calls      int64
	Successes  int64
	Failures   int64
	Retries    int64
	Recoveries int64
	Fallbacks  int64
	ByClass    map[Class]int64
}

func NewExecutor(opts Options) *Executor {
	policies := DefaultPolicies()
	for class, policy := range opts.Policies {
		policies[class] = policy
	}
	e := &Executor{
		policies:   policies,
		classifier: opts.Classifier,
		logg:       opts.Logger,
		metrics:    opts.Metrics,
		sleep:      opts.Sleep,
		random:     opts.Random,
		now:        opts.Now,
		byClass:    map[Class]int64{},
	}
	if e.classifier == nil {
		e.classifier = DefaultClassifier
	}
	if e.logg == nil {
		e.logg = logger.Nop()
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.random == nil {
		e.random = rand.Float64
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Policy returns the configured policy for class.
func (e *Executor) Policy(class Class) Policy {
	if policy, ok := e.policies[class]; ok {
		return policy
	}
	return e.policies[ClassUnknown]
}

// Stats returns the counters accumulated since construction.
func (e *Executor) Stats() Stats {
	e.classMu.Lock()
	byClass := make(map[Class]int64, len(e.byClass))
	for class, count := range e.byClass {
		byClass[class] = count
	}
	e.classMu.Unlock()
	return Stats{
		Calls:      e.calls.Load(),
		Successes:  e.successes.Load(),
		Failures:   e.failures.Load(),
		Retries:    e.retries.Load(),
		Recoveries: e.recoveries.Load(),
		Fallbacks:  e.fallbacks.Load(),
		ByClass:    byClass,
	}
}

// CallOption adjusts a single Execute call.
type CallOption func(*callConfig)

type callConfig struct {
	operation      string
	source         string
	classifier     Classifier
	policy         *Policy
	attemptTimeout time.Duration
}

// WithOperation names the call for logs and metrics.
func WithOperation(name string) CallOption {
	return func(c *callConfig) { c.operation = name }
}

// WithClassifier replaces the executor classifier for this call.
func WithClassifier(classifier Classifier) CallOption {
	return func(c *callConfig) { c.classifier = classifier }
}

// WithPolicy overrides the per-class table for every retryable class.
// Authentication and validation failures still get a single attempt.
func WithPolicy(policy Policy) CallOption {
	return func(c *callConfig) { c.policy = &policy }
}

// WithAttemptTimeout bounds each attempt. An attempt that exceeds it fails
// with the timeout class and is retried under that policy.
func WithAttemptTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.attemptTimeout = d }
}

func withSource(source string) CallOption {
	return func(c *callConfig) { c.source = source }
}

// Execute runs op until it succeeds, fails with a non-retryable class,
// exhausts the attempts of its class, or ctx is done.
func Execute[T any](ctx context.Context, e *Executor, op Operation[T], opts ...CallOption) (Result[T], error) {
	cfg := callConfig{operation: "call", classifier: e.classifier}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.source == "" {
		cfg.source = cfg.operation
	}

	e.calls.Add(1)
	start := e.now()
	logCtx := e.logg.WithOperation(ctx, cfg.operation)

	var zero Result[T]
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, e.fail(cfg, attempt-1, start, DefaultClassifier(err), err)
		}

		value, err := runAttempt(ctx, op, cfg.attemptTimeout)
		if err == nil {
			elapsed := e.now().Sub(start)
			e.successes.Add(1)
			if attempt > 1 {
				e.recoveries.Add(1)
				e.logg.Info(e.logg.WithField(logCtx, "attempts", attempt), "executor.recovered")
			}
			e.metrics.ObserveCall(cfg.operation, "success", "", elapsed)
			return Result[T]{
				Value:     value,
				Attempts:  attempt,
				Elapsed:   elapsed,
				Recovered: attempt > 1,
				Source:    cfg.source,
			}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			if !errors.Is(err, ctxErr) {
				err = errors.Join(ctxErr, err)
			}
			return zero, e.fail(cfg, attempt, start, DefaultClassifier(ctxErr), err)
		}

		class := cfg.classifier(err)
		if errors.Is(err, errAttemptTimeout) {
			class = ClassTimeout
		}
		e.countClass(class)

		policy := e.Policy(class)
		if cfg.policy != nil {
			policy = *cfg.policy
		}
		if attempt >= policy.Attempts(class) {
			return zero, e.fail(cfg, attempt, start, class, err)
		}

		delay := policy.Delay(attempt, e.random)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.RetryAfter > delay {
			delay = statusErr.RetryAfter
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}

		e.retries.Add(1)
		e.metrics.IncRetry(cfg.operation, class.String())
		e.logg.Warn(e.logg.WithFields(logCtx, map[string]any{
			"attempt":  attempt,
			"class":    class.String(),
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		}), "executor.retry")

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return zero, e.fail(cfg, attempt, start, DefaultClassifier(sleepErr), sleepErr)
		}
	}
}

func (e *Executor) fail(cfg callConfig, attempts int, start time.Time, class Class, err error) error {
	elapsed := e.now().Sub(start)
	e.failures.Add(1)
	e.metrics.ObserveCall(cfg.operation, "failure", class.String(), elapsed)
	return &ExecutionError{
		Operation: cfg.operation,
		Class:     class,
		Attempts:  attempts,
		Elapsed:   elapsed,
		Err:       err,
	}
}

func (e *Executor) countClass(class Class) {
	e.classMu.Lock()
	e.byClass[class]++
	e.classMu.Unlock()
}

var errAttemptTimeout = errors.New("attempt timed out")

func runAttempt[T any](ctx context.Context, op Operation[T], timeout time.Duration) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	value, err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return value, errors.Join(errAttemptTimeout, err)
	}
	return value, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
