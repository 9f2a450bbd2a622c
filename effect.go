package restate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

type effectState int

const (
	effectIdle effectState = iota
	effectRunning
	effectSubscribed
	effectErroring
)

// ErrorStrategy decides what happens when an effect run returns an error or
// panics. The zero strategy for an effect is KeepAlive.
type ErrorStrategy interface {
	isErrorStrategy()
}

// FailFast tears the effect down on its first error. If the failure happens
// on the initial run the error surfaces from instance creation; failures in
// dependency-triggered reruns surface to the writer that caused them.
type FailFast struct{}

func (FailFast) isErrorStrategy() {}

// KeepAlive logs the error and keeps the previous run's subscriptions alive,
// so a later dependency change gives the effect another chance.
type KeepAlive struct{}

func (KeepAlive) isErrorStrategy() {}

// Retry re-runs a failed effect up to Max additional times. Delay maps the
// zero-based attempt number to a wait; nil means 100ms doubling per attempt.
type Retry struct {
	Max   int
	Delay func(attempt int) time.Duration
}

func (Retry) isErrorStrategy() {}

func (r Retry) delay(attempt int) time.Duration {
	if r.Delay != nil {
		return r.Delay(attempt)
	}
	return time.Duration(float64(100*time.Millisecond) * math.Pow(2, float64(attempt)))
}

// ErrorHandler hands the failure to user code, which may call Retry on the
// context to schedule another run.
type ErrorHandler func(*ErrorContext)

func (ErrorHandler) isErrorStrategy() {}

// ErrorContext is passed to an ErrorHandler strategy.
type ErrorContext struct {
	Err        error
	RetryCount int

	effect *Effect
}

// Retry schedules another run of the failed effect.
func (c *ErrorContext) Retry() {
	c.effect.scheduleRerun()
}

var effectCounter atomic.Uint64

// Effect is a re-runnable tracked computation. Each run records the store
// properties it reads, then subscribes to them so any later unequal write
// triggers a rerun. Properties the run also wrote are excluded from the
// subscription set, which breaks self-write loops.
type Effect struct {
	id       string
	fn       func(*EffectCtx) error
	strategy ErrorStrategy
	logger   *slog.Logger

	mu       sync.Mutex
	state    effectState
	gen      uint64
	disposed bool
	retries  int

	deps     map[string]Dependency
	depOrder []string
	written  map[string]struct{}
	cleanups []func()
	subs     []func()
	fallback []func()

	retryTimer *time.Timer
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewEffect builds an effect around fn. A nil strategy means KeepAlive.
func NewEffect(fn func(*EffectCtx) error, strategy ErrorStrategy, logger *slog.Logger) *Effect {
	if strategy == nil {
		strategy = KeepAlive{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Effect{
		id:       fmt.Sprintf("effect-%d", effectCounter.Add(1)),
		fn:       fn,
		strategy: strategy,
		logger:   logger,
		written:  make(map[string]struct{}),
	}
}

// ID returns the effect's monotonic id.
func (e *Effect) ID() string { return e.id }

// Execute runs the effect once: cleanups from the previous run fire first in
// reverse registration order, then fn runs with read and write interception
// installed. On success the recorded reads (minus the written set) become the
// new subscription set. The returned error is non-nil only under FailFast.
func (e *Effect) Execute() error {
	e.mu.Lock()
	if e.disposed || e.state == effectRunning {
		e.mu.Unlock()
		return nil
	}
	e.state = effectRunning
	e.gen++
	gen := e.gen
	cleanups := e.cleanups
	prevSubs := e.subs
	e.cleanups = nil
	e.deps = make(map[string]Dependency)
	e.depOrder = nil
	e.written = make(map[string]struct{})
	firstRun := prevSubs == nil && e.fallback == nil
	e.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}

	ec := &EffectCtx{effect: e, gen: gen}
	err := e.runTracked(ec)

	e.mu.Lock()
	if e.disposed || e.gen != gen {
		e.mu.Unlock()
		return nil
	}

	if err == nil {
		e.retries = 0
		subs := make([]func(), 0, len(e.depOrder))
		for _, key := range e.depOrder {
			if _, wrote := e.written[key]; wrote {
				continue
			}
			dep := e.deps[key]
			subs = append(subs, dep.Subscribe(func() { e.scheduleRerun() }))
		}
		e.subs = subs
		fallback := e.fallback
		e.fallback = nil
		e.state = effectSubscribed
		e.mu.Unlock()

		for _, off := range prevSubs {
			off()
		}
		for _, off := range fallback {
			off()
		}
		return nil
	}

	// Error path. Keep prevSubs live for the strategies that want another
	// chance, since this run's reads were never subscribed.
	e.state = effectErroring
	retries := e.retries

	switch st := e.strategy.(type) {
	case FailFast:
		e.killLocked()
		subs := append(prevSubs, e.fallback...)
		failedCleanups := e.cleanups
		e.cleanups = nil
		e.fallback = nil
		e.mu.Unlock()
		for i := len(failedCleanups) - 1; i >= 0; i-- {
			failedCleanups[i]()
		}
		for _, off := range subs {
			off()
		}
		return &EffectError{EffectID: e.id, Cause: err, Retries: retries}

	case Retry:
		if retries >= st.Max {
			subs := append(prevSubs, e.fallback...)
			e.killLocked()
			failedCleanups := e.cleanups
			e.cleanups = nil
			e.subs = nil
			e.fallback = nil
			e.mu.Unlock()
			e.logger.Error("effect retries exhausted",
				"effect", e.id, "retries", retries, "err", err)
			for i := len(failedCleanups) - 1; i >= 0; i-- {
				failedCleanups[i]()
			}
			for _, off := range subs {
				off()
			}
			return nil
		}
		e.retries++
		attempt := retries
		e.retryTimer = time.AfterFunc(st.delay(attempt), func() {
			e.mu.Lock()
			stale := e.disposed || e.gen != gen
			e.mu.Unlock()
			if !stale {
				e.Execute()
			}
		})
		e.restoreSubscriptionsLocked(firstRun)
		e.mu.Unlock()
		return nil

	case ErrorHandler:
		e.restoreSubscriptionsLocked(firstRun)
		e.mu.Unlock()
		st(&ErrorContext{Err: err, RetryCount: retries, effect: e})
		return nil

	default: // KeepAlive
		e.restoreSubscriptionsLocked(firstRun)
		e.mu.Unlock()
		e.logger.Error("effect failed, keeping subscriptions alive",
			"effect", e.id, "err", err)
		return nil
	}
}

// restoreSubscriptionsLocked re-arms the effect after a failed run. On the
// first run there are no previous subscriptions, so the reads recorded before
// the failure are subscribed as a fallback set.
func (e *Effect) restoreSubscriptionsLocked(firstRun bool) {
	if firstRun && len(e.fallback) == 0 {
		for _, key := range e.depOrder {
			if _, wrote := e.written[key]; wrote {
				continue
			}
			dep := e.deps[key]
			e.fallback = append(e.fallback, dep.Subscribe(func() { e.scheduleRerun() }))
		}
	}
}

func (e *Effect) runTracked(ec *EffectCtx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(error); ok {
				err = re
			} else {
				err = fmt.Errorf("panic in effect: %v", r)
			}
		}
	}()
	WithHooks(Hooks{
		OnRead: func(dep Dependency) {
			e.mu.Lock()
			key := dep.Key()
			if _, seen := e.deps[key]; !seen {
				e.deps[key] = dep
				e.depOrder = append(e.depOrder, key)
			}
			e.mu.Unlock()
		},
		OnWrite: func(instanceID, prop string, next, prev any) {
			e.mu.Lock()
			e.written[instanceID+"/"+prop] = struct{}{}
			e.mu.Unlock()
		},
	}, func() {
		err = e.fn(ec)
	})
	return err
}

func (e *Effect) scheduleRerun() {
	scheduleNotification("effect:"+e.id, func() {
		if err := e.Execute(); err != nil {
			// FailFast failure in a dependency-triggered rerun surfaces to
			// the writer whose change scheduled it.
			panic(err)
		}
	})
}

// killLocked marks the effect permanently dead: the generation is bumped so
// stale Safe wrappers go inert, any pending retry timer stops and the run
// context is cancelled. Every path that sets disposed goes through here, so
// a goroutine waiting on EffectCtx.Context never outlives the effect.
func (e *Effect) killLocked() {
	e.disposed = true
	e.gen++
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	if e.cancel != nil {
		e.cancel()
	}
}

// Dispose stops the effect permanently: pending retries are cancelled, the
// run context is cancelled, cleanups fire in reverse order and every
// subscription is dropped. Idempotent.
func (e *Effect) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.killLocked()
	cleanups := e.cleanups
	subs := append(e.subs, e.fallback...)
	e.cleanups = nil
	e.subs = nil
	e.fallback = nil
	e.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	for _, off := range subs {
		off()
	}
}

// Disposed reports whether the effect has been torn down.
func (e *Effect) Disposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// EffectCtx is passed to each effect run. Cleanups and Safe wrappers are tied
// to the run that registered them and become inert once a newer run starts.
type EffectCtx struct {
	effect *Effect
	gen    uint64
}

// Nth returns the one-based run number.
func (c *EffectCtx) Nth() int { return int(c.gen) }

// Context returns a context cancelled when the effect is disposed. It is
// shared across runs and created lazily.
func (c *EffectCtx) Context() context.Context {
	e := c.effect
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		e.ctx, e.cancel = context.WithCancel(context.Background())
		if e.disposed {
			e.cancel()
		}
	}
	return e.ctx
}

// OnCleanup registers fn to run before the next run, or at dispose. Returns
// an unregister function. Registration from a stale run is ignored.
func (c *EffectCtx) OnCleanup(fn func()) (un func()) {
	e := c.effect
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed || e.gen != c.gen {
		return func() {}
	}
	e.cleanups = append(e.cleanups, fn)
	idx := len(e.cleanups) - 1
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen == c.gen && idx < len(e.cleanups) && e.cleanups[idx] != nil {
			e.cleanups[idx] = func() {}
		}
	}
}

// Safe wraps fn so it only executes while this run is still current. Handing
// the wrapper to timers or goroutines prevents stale runs from acting.
func (c *EffectCtx) Safe(fn func()) func() {
	e := c.effect
	return func() {
		e.mu.Lock()
		stale := e.disposed || e.gen != c.gen
		e.mu.Unlock()
		if !stale {
			fn()
		}
	}
}
