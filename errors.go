package restate

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrUntracked is returned by Pick when no read-interception hook is active.
var ErrUntracked = errors.New("pick called outside a tracked computation")

// SetupPhaseError reports a setup-only operation invoked after setup
// returned. It indicates programmer misuse and is never retried.
type SetupPhaseError struct {
	Op         string
	Spec       *Spec
	StackTrace []byte
}

func (e *SetupPhaseError) Error() string {
	return fmt.Sprintf("%s called outside the setup phase of spec %q", e.Op, e.Spec.Name())
}

func NewSetupPhaseError(op string, spec *Spec) *SetupPhaseError {
	return &SetupPhaseError{Op: op, Spec: spec, StackTrace: debug.Stack()}
}

// CircularDependencyError reports a spec that requests itself, directly or
// transitively, during construction.
type CircularDependencyError struct {
	Spec       *Spec
	StackTrace []byte
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected while creating spec %q", e.Spec.Name())
}

func NewCircularDependencyError(spec *Spec) *CircularDependencyError {
	return &CircularDependencyError{Spec: spec, StackTrace: debug.Stack()}
}

// LifetimeError reports a keepAlive instance resolving an autoDispose
// dependency. A long-lived instance cannot safely hold a reference that may
// vanish under it.
type LifetimeError struct {
	Owner      *Spec
	Dependency *Spec
}

func (e *LifetimeError) Error() string {
	return fmt.Sprintf("keepAlive spec %q may not depend on autoDispose spec %q",
		e.Owner.Name(), e.Dependency.Name())
}

// DisposedError reports an action invoked on a disposed instance.
type DisposedError struct {
	InstanceID string
	Action     string
}

func (e *DisposedError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("action %q dispatched on disposed instance %s", e.Action, e.InstanceID)
	}
	return fmt.Sprintf("operation on disposed instance %s", e.InstanceID)
}

// EffectError wraps a failure inside an effect run together with the retry
// count at the time it surfaced.
type EffectError struct {
	EffectID string
	Cause    error
	Retries  int
}

func (e *EffectError) Error() string {
	if e.Retries > 0 {
		return fmt.Sprintf("effect %s failed after %d retries: %v", e.EffectID, e.Retries, e.Cause)
	}
	return fmt.Sprintf("effect %s failed: %v", e.EffectID, e.Cause)
}

func (e *EffectError) Unwrap() error {
	return e.Cause
}

// SetupError wraps a failure (error return or recovered panic) inside a
// spec's setup function.
type SetupError struct {
	Spec       *Spec
	Cause      error
	StackTrace []byte
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup of spec %q failed: %v", e.Spec.Name(), e.Cause)
}

func (e *SetupError) Unwrap() error {
	return e.Cause
}

func NewSetupError(spec *Spec, cause error) *SetupError {
	return &SetupError{Spec: spec, Cause: cause, StackTrace: debug.Stack()}
}
