package restate

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Change describes one accepted property write.
type Change struct {
	Prop string
	Next any
	Prev any
}

// Dispatch is the frozen record of one action invocation. Err is zero on the
// record captured before invocation and set on the copies delivered to
// dispatch subscribers when the action failed.
type Dispatch struct {
	Name string
	Args []any
	Nth  int
	Time time.Time
	Err  error
}

// ActionFunc is a user-supplied action. Actions are the only write path into
// an instance's state after setup returns.
type ActionFunc func(args ...any) (any, error)

// Actions maps action names to their implementations, as returned by a
// spec's setup function.
type Actions map[string]ActionFunc

// dispatchProp is the synthetic property key under which the last dispatch
// record is tracked, so LastDispatch reads participate in dependency
// tracking like ordinary properties.
const dispatchProp = "@dispatch"

// wildcardDispatch subscribes to every action's dispatch events.
const wildcardDispatch = "*"

// Store owns one instance's state snapshot together with its per-property
// and dispatch emitters. Snapshots are never mutated: every accepted write
// replaces the snapshot with a shallow copy sharing unchanged fields.
type Store struct {
	id     string
	eq     func(prop string) Equal
	logger *slog.Logger

	mu       sync.Mutex
	snapshot map[string]any
	initial  map[string]any
	props    map[string]*Emitter[Change]
	global   *Emitter[map[string]any]
	dispatch map[string]*Emitter[Dispatch]
	counts   map[string]int
	last     *Dispatch
	disposed bool

	onDispatch func(Dispatch)
	onError    func(error, Dispatch)
}

func newStore(id string, template map[string]any, cfg *EqualityConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		id:       id,
		eq:       equalityFor(cfg),
		logger:   logger,
		snapshot: cloneState(template),
		props:    make(map[string]*Emitter[Change]),
		global:   NewEmitter[map[string]any](),
		dispatch: make(map[string]*Emitter[Dispatch]),
		counts:   make(map[string]int),
	}
}

func cloneState(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ID returns the owning instance's id.
func (s *Store) ID() string { return s.id }

func (s *Store) propEmitter(prop string) *Emitter[Change] {
	s.mu.Lock()
	defer s.mu.Unlock()
	em, ok := s.props[prop]
	if !ok {
		em = NewEmitter[Change]()
		s.props[prop] = em
	}
	return em
}

func (s *Store) dispatchEmitter(name string) *Emitter[Dispatch] {
	s.mu.Lock()
	defer s.mu.Unlock()
	em, ok := s.dispatch[name]
	if !ok {
		em = NewEmitter[Dispatch]()
		s.dispatch[name] = em
	}
	return em
}

// Get reads one property through the tracking protocol.
func (s *Store) Get(prop string) any {
	s.mu.Lock()
	v := s.snapshot[prop]
	s.mu.Unlock()
	trackRead(Dependency{
		InstanceID: s.id,
		Prop:       prop,
		Value:      v,
		Subscribe: func(onChange func()) func() {
			return s.propEmitter(prop).On(func(Change) { onChange() })
		},
	})
	return v
}

// Snapshot returns a copy of the current snapshot. The read is untracked.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.snapshot)
}

func (s *Store) rawSnapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Set writes one property. The write is reported to the active hooks
// unconditionally, then equality-gated: equal writes leave the snapshot and
// all listeners untouched.
func (s *Store) Set(prop string, next any) {
	s.mu.Lock()
	prev := s.snapshot[prop]
	s.mu.Unlock()

	trackWrite(s.id, prop, next, prev)
	if s.eq(prop)(prev, next) {
		return
	}

	s.mu.Lock()
	snap := cloneState(s.snapshot)
	snap[prop] = next
	s.snapshot = snap
	s.mu.Unlock()

	s.propEmitter(prop).Emit(Change{Prop: prop, Next: next, Prev: prev})
	s.notifyGlobal()
}

func (s *Store) notifyGlobal() {
	scheduleNotification(s.id, func() {
		s.global.Emit(s.Snapshot())
	})
}

// Update applies a batch of field changes by mutating a working copy of the
// snapshot. Fields whose new value is custom-equal to the old one keep their
// old reference in the final snapshot; unequal fields notify individually.
func (s *Store) Update(mutate func(draft map[string]any)) {
	s.mu.Lock()
	base := s.snapshot
	s.mu.Unlock()
	draft := cloneState(base)
	mutate(draft)
	s.applyProduced(base, draft)
}

// Merge applies a partial snapshot on top of the current one, with the same
// equality handling as Update.
func (s *Store) Merge(partial map[string]any) {
	s.Update(func(draft map[string]any) {
		for k, v := range partial {
			draft[k] = v
		}
	})
}

func (s *Store) applyProduced(base, draft map[string]any) {
	var changes []Change
	for prop, next := range draft {
		prev, existed := base[prop]
		if existed && identityEqual(prev, next) {
			continue // untouched
		}
		trackWrite(s.id, prop, next, prev)
		if s.eq(prop)(prev, next) {
			// Equal under the configured comparison: keep the old reference
			// so identity-based consumers downstream see no change at all.
			draft[prop] = prev
			continue
		}
		changes = append(changes, Change{Prop: prop, Next: next, Prev: prev})
	}
	for prop, prev := range base {
		if _, still := draft[prop]; !still {
			trackWrite(s.id, prop, nil, prev)
			changes = append(changes, Change{Prop: prop, Next: nil, Prev: prev})
		}
	}
	if len(changes) == 0 {
		return
	}

	s.mu.Lock()
	s.snapshot = draft
	s.mu.Unlock()

	for _, ch := range changes {
		s.propEmitter(ch.Prop).Emit(ch)
	}
	s.notifyGlobal()
}

// captureInitial freezes the post-setup snapshot used by Dirty and Reset.
func (s *Store) captureInitial() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initial = cloneState(s.snapshot)
}

// Dirty reports whether the named properties (or any property, when none are
// named) differ from the post-setup snapshot under the configured equality.
func (s *Store) Dirty(props ...string) bool {
	s.mu.Lock()
	current, initial := s.snapshot, s.initial
	s.mu.Unlock()
	if initial == nil {
		return false
	}
	if len(props) == 0 {
		for prop := range current {
			props = append(props, prop)
		}
		for prop := range initial {
			if _, ok := current[prop]; !ok {
				props = append(props, prop)
			}
		}
	}
	for _, prop := range props {
		if !s.eq(prop)(initial[prop], current[prop]) {
			return true
		}
	}
	return false
}

// Reset restores the post-setup snapshot, firing notifications only for
// properties that actually differ from the current state.
func (s *Store) Reset() {
	s.mu.Lock()
	initial := s.initial
	s.mu.Unlock()
	if initial == nil {
		return
	}
	s.Update(func(draft map[string]any) {
		for prop := range draft {
			if _, keep := initial[prop]; !keep {
				delete(draft, prop)
			}
		}
		for prop, v := range initial {
			draft[prop] = v
		}
	})
}

// LastDispatch returns the most recent dispatch record. The read is tracked
// under a synthetic property key, so effects re-run on new dispatches.
func (s *Store) LastDispatch() *Dispatch {
	s.mu.Lock()
	d := s.last
	s.mu.Unlock()
	trackRead(Dependency{
		InstanceID: s.id,
		Prop:       dispatchProp,
		Value:      d,
		Subscribe: func(onChange func()) func() {
			return s.propEmitter(dispatchProp).On(func(Change) { onChange() })
		},
	})
	return d
}

// wrap builds the dispatching wrapper around one user action.
func (s *Store) wrap(name string, fn ActionFunc) ActionFunc {
	return func(args ...any) (any, error) {
		s.mu.Lock()
		if s.disposed {
			id := s.id
			s.mu.Unlock()
			return nil, &DisposedError{InstanceID: id, Action: name}
		}
		s.counts[name]++
		rec := Dispatch{Name: name, Args: args, Nth: s.counts[name], Time: time.Now()}
		s.last = &rec
		s.mu.Unlock()

		result, err := invokeAction(fn, args)
		if err != nil && s.onError != nil {
			s.onError(err, rec)
		}

		delivered := rec
		delivered.Err = err
		s.dispatchEmitter(name).Emit(delivered)
		s.dispatchEmitter(wildcardDispatch).Emit(delivered)
		s.propEmitter(dispatchProp).Emit(Change{Prop: dispatchProp, Next: &rec})
		if s.onDispatch != nil {
			s.onDispatch(delivered)
		}
		return result, err
	}
}

func invokeAction(fn ActionFunc, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in action: %v", r)
		}
	}()
	return fn(args...)
}

func (s *Store) dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
}

func (s *Store) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// View is an intercepted window over a store's snapshot. Writable views are
// handed to setup and actions; read-only views are the external surface and
// reject writes with a warning instead of dropping them silently.
type View struct {
	store    *Store
	writable bool
}

// Get reads one property through the tracking protocol.
func (v View) Get(prop string) any {
	return v.store.Get(prop)
}

// Set writes one property. On a read-only view the write is rejected.
func (v View) Set(prop string, val any) {
	if !v.writable {
		v.store.logger.Warn("write rejected on read-only state view",
			"instance", v.store.id, "prop", prop)
		return
	}
	v.store.Set(prop, val)
}

// Update runs a batched mutation (writable views only).
func (v View) Update(mutate func(draft map[string]any)) {
	if !v.writable {
		v.store.logger.Warn("update rejected on read-only state view", "instance", v.store.id)
		return
	}
	v.store.Update(mutate)
}

// Merge applies a partial snapshot (writable views only).
func (v View) Merge(partial map[string]any) {
	if !v.writable {
		v.store.logger.Warn("merge rejected on read-only state view", "instance", v.store.id)
		return
	}
	v.store.Merge(partial)
}

// Snapshot returns an untracked copy of the whole state.
func (v View) Snapshot() map[string]any {
	return v.store.Snapshot()
}
