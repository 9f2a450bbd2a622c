package restate

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var pickCounter atomic.Uint64

// Pick evaluates selector inside a private tracking scope and reports the
// result to the enclosing tracked computation as a single synthetic
// dependency. The enclosing computation is only notified when a re-evaluation
// produces a value unequal under eq (identity when eq is nil), regardless of
// how many underlying properties changed.
//
// Outside a tracked computation Pick returns ErrUntracked.
func Pick(selector func() any, eq Equal) (any, error) {
	outer := activeHooks()
	if outer.OnRead == nil {
		return nil, ErrUntracked
	}
	if eq == nil {
		eq = identityEqual
	}

	p := &picker{
		id:       fmt.Sprintf("pick-%d", pickCounter.Add(1)),
		selector: selector,
		eq:       eq,
		deps:     make(map[string]Dependency),
	}
	value := p.evaluate()
	if len(p.order) == 0 {
		// Nothing tracked underneath, so the value can never change.
		return value, nil
	}
	p.value = value

	outer.OnRead(Dependency{
		InstanceID: p.id,
		Prop:       "value",
		Value:      value,
		Subscribe:  p.subscribe,
	})
	return value, nil
}

type picker struct {
	id       string
	selector func() any
	eq       Equal

	mu    sync.Mutex
	value any
	deps  map[string]Dependency
	order []string
	subs  map[string]func()
}

// evaluate runs the selector with read interception, replacing the recorded
// dependency set.
func (p *picker) evaluate() any {
	p.mu.Lock()
	p.deps = make(map[string]Dependency)
	p.order = nil
	p.mu.Unlock()

	var value any
	WithHooks(Hooks{
		OnRead: func(dep Dependency) {
			p.mu.Lock()
			key := dep.Key()
			if _, seen := p.deps[key]; !seen {
				p.deps[key] = dep
				p.order = append(p.order, key)
			}
			p.mu.Unlock()
		},
		// Writes inside a selector stay local to it.
		OnWrite: func(string, string, any, any) {},
	}, func() {
		value = p.selector()
	})
	return value
}

// subscribe wires the underlying reads. When any fires, the selector re-runs,
// the subscription set is diffed against the new reads and onChange fires
// only if the derived value changed under eq.
func (p *picker) subscribe(onChange func()) func() {
	p.mu.Lock()
	p.subs = make(map[string]func())
	deps, order := p.deps, p.order
	p.mu.Unlock()

	for _, key := range order {
		p.addSub(key, deps[key], onChange)
	}

	return func() {
		p.mu.Lock()
		subs := p.subs
		p.subs = nil
		p.mu.Unlock()
		for _, off := range subs {
			off()
		}
	}
}

func (p *picker) addSub(key string, dep Dependency, onChange func()) {
	off := dep.Subscribe(func() { p.onUnderlyingChange(onChange) })
	p.mu.Lock()
	if p.subs == nil {
		p.mu.Unlock()
		off()
		return
	}
	p.subs[key] = off
	p.mu.Unlock()
}

func (p *picker) onUnderlyingChange(onChange func()) {
	prev := p.value
	next := p.evaluate()

	p.mu.Lock()
	if p.subs == nil {
		p.mu.Unlock()
		return
	}
	// Diff the subscription set against the re-recorded reads.
	current := make(map[string]Dependency, len(p.deps))
	for k, d := range p.deps {
		current[k] = d
	}
	var stale []func()
	for key, off := range p.subs {
		if _, still := current[key]; !still {
			stale = append(stale, off)
			delete(p.subs, key)
		}
	}
	var added []string
	for _, key := range p.order {
		if _, have := p.subs[key]; !have {
			added = append(added, key)
		}
	}
	p.value = next
	p.mu.Unlock()

	for _, off := range stale {
		off()
	}
	for _, key := range added {
		p.addSub(key, current[key], onChange)
	}

	if !p.eq(prev, next) {
		onChange()
	}
}
