package restate

import "sync"

// Dependency records one tracked property read: where it came from, the value
// observed, and how to subscribe to future changes of that property.
type Dependency struct {
	InstanceID string
	Prop       string
	Value      any
	Subscribe  func(onChange func()) (off func())
}

// Key identifies the dependency within a read set.
func (d Dependency) Key() string {
	return d.InstanceID + "/" + d.Prop
}

// Hooks is the set of interception callbacks active for the current logical
// thread of execution. All fields are optional; a nil field means the
// corresponding event is not intercepted at this level.
type Hooks struct {
	// OnRead observes every tracked property read.
	OnRead func(dep Dependency)

	// OnWrite observes every property write, before equality gating.
	OnWrite func(instanceID, prop string, next, prev any)

	// ScheduleNotification defers a notification callback. Callbacks sharing
	// a key may be deduplicated by the active scheduler (see Batch).
	ScheduleNotification func(key string, fn func())

	// ScheduleEffect decides when a newly registered effect starts.
	ScheduleEffect func(e *Effect)
}

// merge returns h with the non-nil fields of patch applied on top.
func (h Hooks) merge(patch Hooks) Hooks {
	if patch.OnRead != nil {
		h.OnRead = patch.OnRead
	}
	if patch.OnWrite != nil {
		h.OnWrite = patch.OnWrite
	}
	if patch.ScheduleNotification != nil {
		h.ScheduleNotification = patch.ScheduleNotification
	}
	if patch.ScheduleEffect != nil {
		h.ScheduleEffect = patch.ScheduleEffect
	}
	return h
}

// The registry is one slot for the logical thread of execution. The mutex
// only guards the swap itself; callbacks run outside it so scopes can nest.
var (
	hookMu       sync.Mutex
	currentHooks Hooks
)

func activeHooks() Hooks {
	hookMu.Lock()
	defer hookMu.Unlock()
	return currentHooks
}

func swapHooks(next Hooks) (prev Hooks) {
	hookMu.Lock()
	defer hookMu.Unlock()
	prev = currentHooks
	currentHooks = next
	return prev
}

// WithHooks runs fn with patch merged into the currently active hook set and
// restores the prior set afterwards, including when fn panics.
func WithHooks(patch Hooks, fn func()) {
	prev := swapHooks(activeHooks().merge(patch))
	defer swapHooks(prev)
	fn()
}

// WithHooksFrom is the composing form of WithHooks: build receives the
// currently active set and returns the set to install, so a scope can call
// through to hooks that are already active instead of replacing them.
func WithHooksFrom(build func(active Hooks) Hooks, fn func()) {
	prev := swapHooks(build(activeHooks()))
	defer swapHooks(prev)
	fn()
}

// trackRead reports a property read to the active OnRead hook, if any.
func trackRead(dep Dependency) {
	if h := activeHooks(); h.OnRead != nil {
		h.OnRead(dep)
	}
}

// trackWrite reports a property write to the active OnWrite hook, if any.
// It fires before equality gating, so hooks see rejected writes too.
func trackWrite(instanceID, prop string, next, prev any) {
	if h := activeHooks(); h.OnWrite != nil {
		h.OnWrite(instanceID, prop, next, prev)
	}
}

// scheduleNotification defers fn through the active scheduler. The default
// top-level behavior is immediate invocation.
func scheduleNotification(key string, fn func()) {
	if h := activeHooks(); h.ScheduleNotification != nil {
		h.ScheduleNotification(key, fn)
		return
	}
	fn()
}

// scheduleEffect hands a registered effect to the active scheduler. The
// default top-level behavior starts it immediately.
func scheduleEffect(e *Effect) error {
	if h := activeHooks(); h.ScheduleEffect != nil {
		h.ScheduleEffect(e)
		return nil
	}
	return e.Execute()
}
