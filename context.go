package restate

// SetupCtx is handed to a spec's setup function. It is only valid while
// setup runs; escaping it and calling Use, Create or Effect later yields a
// SetupPhaseError.
type SetupCtx struct {
	container *Container
	inst      *Instance
	active    bool
	pending   []*Effect
	err       error
}

// Container returns the owning container.
func (ctx *SetupCtx) Container() *Container { return ctx.container }

// InstanceID returns the id of the instance being set up.
func (ctx *SetupCtx) InstanceID() string { return ctx.inst.id }

// State returns a writable tracked view over the instance's own state.
func (ctx *SetupCtx) State() View {
	return View{store: ctx.inst.store, writable: true}
}

// Use resolves a dependency through the container, recording the edge in the
// dependency graph. A keepAlive owner may not depend on an autoDispose spec;
// the rule is checked before resolution so the dependency is never built.
func (ctx *SetupCtx) Use(dep *Spec) (*Instance, error) {
	if !ctx.active {
		return nil, NewSetupPhaseError("Use", ctx.inst.spec)
	}
	if ctx.inst.spec.Lifetime() == LifetimeKeepAlive && dep.Lifetime() == LifetimeAutoDispose {
		err := &LifetimeError{Owner: ctx.inst.spec, Dependency: dep}
		ctx.err = err
		return nil, err
	}
	resolved, err := ctx.container.Get(dep)
	if err != nil {
		ctx.err = err
		return nil, err
	}
	ctx.container.graph.AddDependency(ctx.inst, resolved)
	return resolved, nil
}

// Create builds a private, uncached instance owned by the one being set up.
// It is torn down with its creator, before the creator's own disposers.
func (ctx *SetupCtx) Create(spec *Spec) (*Instance, error) {
	if !ctx.active {
		return nil, NewSetupPhaseError("Create", ctx.inst.spec)
	}
	child, err := ctx.container.buildWrapped(spec)
	if err != nil {
		ctx.err = err
		return nil, err
	}
	ctx.inst.addChild(child)
	ctx.container.graph.AddDependency(ctx.inst, child)
	return child, nil
}

// EffectOption configures one effect declaration.
type EffectOption func(*effectConfig)

type effectConfig struct {
	strategy ErrorStrategy
}

// WithStrategy overrides the error strategy for a single effect.
func WithStrategy(st ErrorStrategy) EffectOption {
	return func(c *effectConfig) { c.strategy = st }
}

// Effect declares a tracked side effect. It first runs after setup finishes
// and the initial snapshot is frozen, then re-runs whenever a property it
// read (and did not also write) changes.
func (ctx *SetupCtx) Effect(fn func(*EffectCtx) error, opts ...EffectOption) error {
	if !ctx.active {
		return NewSetupPhaseError("Effect", ctx.inst.spec)
	}
	var cfg effectConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	strategy := cfg.strategy
	if strategy == nil {
		strategy = ctx.inst.spec.effectStrategy
	}
	return scheduleEffect(NewEffect(fn, strategy, ctx.container.logger))
}

// GetTag retrieves a tag value from the container
func (ctx *SetupCtx) GetTag(tag any) (any, bool) {
	return ctx.container.GetTag(tag)
}

// GetTag retrieves a typed tag value from the container
func GetTag[T any](ctx *SetupCtx, tag Tag[T]) (T, bool) {
	return tag.Get(ctx.container)
}

// GetTagOrDefault retrieves a typed tag or returns a default value
func GetTagOrDefault[T any](ctx *SetupCtx, tag Tag[T], defaultVal T) T {
	return tag.GetOrDefault(ctx.container, defaultVal)
}
