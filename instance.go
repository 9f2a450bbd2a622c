package restate

import (
	"fmt"
	"sync"
	"time"
)

// Instance is one live realization of a spec inside a container: its state
// store, wrapped actions and teardown bookkeeping. External subscriptions
// hold a reference count that drives auto-dispose; effect subscriptions run
// at the store level and never count.
type Instance struct {
	id        string
	spec      *Spec
	container *Container
	store     *Store
	actions   Actions

	mu         sync.Mutex
	disposed   bool
	disposers  []func()
	refs       int
	graceTimer *time.Timer
	children   []*Instance
}

// ID returns the instance id, of the form "<spec name>-<n>".
func (i *Instance) ID() string { return i.id }

// Spec returns the blueprint this instance was built from.
func (i *Instance) Spec() *Spec { return i.spec }

// State returns a read-only tracked view over the instance's state.
func (i *Instance) State() View {
	return View{store: i.store}
}

// Actions returns the wrapped action table.
func (i *Instance) Actions() Actions { return i.actions }

// Call invokes one action by name. An unknown name or a disposed instance
// yields an error, never a panic.
func (i *Instance) Call(name string, args ...any) (any, error) {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return nil, &DisposedError{InstanceID: i.id, Action: name}
	}
	fn, ok := i.actions[name]
	i.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("instance %s has no action %q", i.id, name)
	}
	return fn(args...)
}

// LastDispatch returns the most recent dispatch record as a tracked read.
func (i *Instance) LastDispatch() *Dispatch {
	return i.store.LastDispatch()
}

// Dirty reports whether state drifted from the post-setup snapshot.
func (i *Instance) Dirty(props ...string) bool {
	return i.store.Dirty(props...)
}

// Reset restores the post-setup snapshot.
func (i *Instance) Reset() {
	i.store.Reset()
}

// Subscribe observes whole-snapshot changes. The subscription retains the
// instance against auto-dispose until its unsubscribe function runs.
func (i *Instance) Subscribe(fn func(map[string]any)) func() {
	i.retain()
	off := i.store.global.On(fn)
	return i.releasing(off)
}

// SubscribeProp observes changes to a single property.
func (i *Instance) SubscribeProp(prop string, fn func(Change)) func() {
	i.retain()
	off := i.store.propEmitter(prop).On(fn)
	return i.releasing(off)
}

// SubscribeDispatch observes completed invocations of one action, or every
// action when name is "*".
func (i *Instance) SubscribeDispatch(name string, fn func(Dispatch)) func() {
	i.retain()
	off := i.store.dispatchEmitter(name).On(fn)
	return i.releasing(off)
}

func (i *Instance) releasing(off func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			off()
			i.release()
		})
	}
}

func (i *Instance) retain() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.refs++
	if i.graceTimer != nil {
		i.graceTimer.Stop()
		i.graceTimer = nil
	}
}

func (i *Instance) release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.refs--
	if i.refs > 0 || i.disposed || i.spec.Lifetime() != LifetimeAutoDispose {
		return
	}
	if i.graceTimer != nil {
		i.graceTimer.Stop()
	}
	i.graceTimer = time.AfterFunc(i.spec.gracePeriod, func() {
		i.mu.Lock()
		idle := i.refs == 0 && !i.disposed
		i.mu.Unlock()
		if idle {
			i.container.disposeInstance(i)
		}
	})
}

// Refs reports the current external subscription count.
func (i *Instance) Refs() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.refs
}

// Disposed reports whether the instance was torn down.
func (i *Instance) Disposed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.disposed
}

// Dispose tears the instance down through its container.
func (i *Instance) Dispose() {
	i.container.disposeInstance(i)
}

func (i *Instance) addDisposer(fn func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.disposers = append(i.disposers, fn)
}

func (i *Instance) addChild(child *Instance) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.children = append(i.children, child)
}

// teardown runs the instance-local part of disposal. Children created via
// SetupCtx.Create go first in reverse order, then registered disposers, then
// the store flips to disposed so late action calls fail cleanly.
func (i *Instance) teardown() bool {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return false
	}
	i.disposed = true
	if i.graceTimer != nil {
		i.graceTimer.Stop()
		i.graceTimer = nil
	}
	children := i.children
	disposers := i.disposers
	i.children = nil
	i.disposers = nil
	i.mu.Unlock()

	for n := len(children) - 1; n >= 0; n-- {
		children[n].teardown()
	}
	for n := len(disposers) - 1; n >= 0; n-- {
		disposers[n]()
	}
	i.store.dispose()
	return true
}
