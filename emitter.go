package restate

import "sync"

// Emitter is a small listener-set primitive. Listeners are held in
// registration order; emission iterates over a snapshot so listeners added or
// removed during delivery do not affect the current round.
//
// After Settle, the emitter is terminal: late subscribers are invoked
// immediately with the settled payload and further emits are no-ops.
type Emitter[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	order   []uint64
	byID    map[uint64]func(T)
	byKey   map[string]uint64
	settled bool
	last    T
}

// NewEmitter creates an empty emitter.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{
		byID:  make(map[uint64]func(T)),
		byKey: make(map[string]uint64),
	}
}

func (e *Emitter[T]) add(key string, fn func(T)) (off func()) {
	e.mu.Lock()
	if e.settled {
		last := e.last
		e.mu.Unlock()
		fn(last)
		return func() {}
	}
	if key != "" {
		if _, dup := e.byKey[key]; dup {
			// Same logical listener registered twice has no effect.
			e.mu.Unlock()
			return func() {}
		}
	}
	e.nextID++
	id := e.nextID
	e.order = append(e.order, id)
	e.byID[id] = fn
	if key != "" {
		e.byKey[key] = id
	}
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.removeLocked(id)
		if key != "" && e.byKey[key] == id {
			delete(e.byKey, key)
		}
	}
}

func (e *Emitter[T]) removeLocked(id uint64) {
	delete(e.byID, id)
	for i, other := range e.order {
		if other == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			return
		}
	}
}

// On registers a listener and returns its unsubscribe function.
func (e *Emitter[T]) On(fn func(T)) (off func()) {
	return e.add("", fn)
}

// OnKeyed registers a listener under a caller-supplied identity. Registering
// the same key again is a no-op, which gives callers the deduplicated-set
// behavior Go cannot provide for raw function values.
func (e *Emitter[T]) OnKeyed(key string, fn func(T)) (off func()) {
	return e.add(key, fn)
}

// OnFiltered registers a listener behind a map/filter step. The listener is
// invoked with the transformed payload; returning ok=false suppresses
// delivery.
func (e *Emitter[T]) OnFiltered(filter func(T) (T, bool), fn func(T)) (off func()) {
	return e.add("", func(v T) {
		if mapped, ok := filter(v); ok {
			fn(mapped)
		}
	})
}

// OnAll registers several listeners at once and returns a single unsubscribe
// covering all of them.
func (e *Emitter[T]) OnAll(fns []func(T)) (off func()) {
	offs := make([]func(), 0, len(fns))
	for _, fn := range fns {
		offs = append(offs, e.add("", fn))
	}
	return func() {
		for _, o := range offs {
			o()
		}
	}
}

func (e *Emitter[T]) snapshot() []func(T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settled {
		return nil
	}
	fns := make([]func(T), 0, len(e.order))
	for _, id := range e.order {
		if fn, ok := e.byID[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

// Emit delivers v to every listener registered at call time.
func (e *Emitter[T]) Emit(v T) {
	for _, fn := range e.snapshot() {
		fn(v)
	}
}

// EmitAndClear emits v, then removes all listeners.
func (e *Emitter[T]) EmitAndClear(v T) {
	fns := e.snapshot()
	e.Clear()
	for _, fn := range fns {
		fn(v)
	}
}

// Settle emits v, clears listeners and flips the emitter into its terminal
// state: later On calls fire immediately with v and emits become no-ops.
// A second Settle is ignored.
func (e *Emitter[T]) Settle(v T) {
	e.mu.Lock()
	if e.settled {
		e.mu.Unlock()
		return
	}
	fns := make([]func(T), 0, len(e.order))
	for _, id := range e.order {
		if fn, ok := e.byID[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.settled = true
	e.last = v
	e.order = nil
	e.byID = make(map[uint64]func(T))
	e.byKey = make(map[string]uint64)
	e.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Clear removes all listeners without emitting.
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = nil
	e.byID = make(map[uint64]func(T))
	e.byKey = make(map[string]uint64)
}

// Len reports the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}

// Settled reports whether the emitter reached its terminal state.
func (e *Emitter[T]) Settled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settled
}
