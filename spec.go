package restate

import (
	"sync"
	"time"
)

// Lifetime controls when a container may tear an instance down.
type Lifetime int

const (
	// LifetimeKeepAlive instances live until their container is cleared.
	LifetimeKeepAlive Lifetime = iota
	// LifetimeAutoDispose instances are torn down once their last external
	// subscriber unsubscribes and the grace period elapses.
	LifetimeAutoDispose
)

// DefaultGracePeriod is the wait between an auto-dispose instance losing its
// last subscriber and actual teardown, long enough for a quick resubscribe.
const DefaultGracePeriod = 100 * time.Millisecond

// Spec is the blueprint for instances: an initial state template, a setup
// function producing the instance's actions, and per-spec policy. The spec
// value itself is the container's cache key, so two specs with the same name
// are still distinct blueprints.
type Spec struct {
	name           string
	state          map[string]any
	setup          func(*SetupCtx) Actions
	lifetime       Lifetime
	equality       *EqualityConfig
	onDispatch     func(Dispatch)
	onError        func(error, Dispatch)
	effectStrategy ErrorStrategy
	gracePeriod    time.Duration

	tagMu sync.Mutex
	tags  map[any]any
}

// SpecOption configures a spec at construction.
type SpecOption func(*Spec)

// NewSpec builds a spec. The state template is copied into each instance;
// setup may be nil for pure-state specs.
func NewSpec(name string, state map[string]any, setup func(*SetupCtx) Actions, opts ...SpecOption) *Spec {
	s := &Spec{
		name:        name,
		state:       state,
		setup:       setup,
		gracePeriod: DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the spec's display name, used in instance ids and errors.
func (s *Spec) Name() string { return s.name }

// Lifetime returns the configured lifetime.
func (s *Spec) Lifetime() Lifetime { return s.lifetime }

// GetTag retrieves spec metadata.
func (s *Spec) GetTag(tag any) (any, bool) {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()
	if s.tags == nil {
		return nil, false
	}
	v, ok := s.tags[tag]
	return v, ok
}

// SetTag stores spec metadata.
func (s *Spec) SetTag(tag any, val any) {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()
	if s.tags == nil {
		s.tags = make(map[any]any)
	}
	s.tags[tag] = val
}

// WithAutoDispose marks instances of this spec for refcounted teardown.
func WithAutoDispose() SpecOption {
	return func(s *Spec) { s.lifetime = LifetimeAutoDispose }
}

// WithEquality installs per-property comparison functions.
func WithEquality(cfg *EqualityConfig) SpecOption {
	return func(s *Spec) { s.equality = cfg }
}

// WithOnDispatch observes every completed action invocation on instances of
// this spec.
func WithOnDispatch(fn func(Dispatch)) SpecOption {
	return func(s *Spec) { s.onDispatch = fn }
}

// WithOnError observes action failures before the dispatch record is
// delivered.
func WithOnError(fn func(error, Dispatch)) SpecOption {
	return func(s *Spec) { s.onError = fn }
}

// WithEffectStrategy sets the default error strategy for effects declared in
// this spec's setup. Per-effect options still win.
func WithEffectStrategy(st ErrorStrategy) SpecOption {
	return func(s *Spec) { s.effectStrategy = st }
}

// WithGracePeriod overrides the auto-dispose grace period.
func WithGracePeriod(d time.Duration) SpecOption {
	return func(s *Spec) { s.gracePeriod = d }
}

// WithSpecTag attaches typed metadata at construction.
func WithSpecTag[T any](tag Tag[T], val T) SpecOption {
	return func(s *Spec) { s.SetTag(tag, val) }
}
