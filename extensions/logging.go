package extensions

import (
	"log/slog"
	"time"

	restate "github.com/pumped-fn/restate-go"
)

// LoggingExtension logs instance lifecycle and, optionally, every action
// dispatch on the instances it sees.
type LoggingExtension struct {
	restate.BaseExtension
	logger        *slog.Logger
	logDispatches bool
}

// LoggingOption configures the logging extension.
type LoggingOption func(*LoggingExtension)

// WithDispatchLogging also logs each completed action invocation.
func WithDispatchLogging() LoggingOption {
	return func(e *LoggingExtension) { e.logDispatches = true }
}

// NewLoggingExtension creates a new logging extension. A nil logger means
// slog.Default.
func NewLoggingExtension(logger *slog.Logger, opts ...LoggingOption) *LoggingExtension {
	if logger == nil {
		logger = slog.Default()
	}
	e := &LoggingExtension{
		BaseExtension: restate.NewBaseExtension("logging"),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *LoggingExtension) Wrap(next func() (*restate.Instance, error), op *restate.Operation) (*restate.Instance, error) {
	start := time.Now()
	inst, err := next()
	duration := time.Since(start)
	if err != nil {
		e.logger.Error("instance creation failed",
			"spec", op.Spec.Name(), "duration", duration, "err", err)
		return nil, err
	}
	e.logger.Info("instance created",
		"spec", op.Spec.Name(), "instance", inst.ID(), "duration", duration)
	return inst, nil
}

func (e *LoggingExtension) OnCreate(inst *restate.Instance) {
	if !e.logDispatches {
		return
	}
	inst.SubscribeDispatch("*", func(d restate.Dispatch) {
		if d.Err != nil {
			e.logger.Warn("action failed",
				"instance", inst.ID(), "action", d.Name, "nth", d.Nth, "err", d.Err)
			return
		}
		e.logger.Info("action dispatched",
			"instance", inst.ID(), "action", d.Name, "nth", d.Nth)
	})
}

func (e *LoggingExtension) OnDispose(inst *restate.Instance) {
	e.logger.Info("instance disposed", "spec", inst.Spec().Name(), "instance", inst.ID())
}
