package restate

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Container builds and caches instances from specs. Instances are cached by
// spec identity; teardown runs in reverse creation order. A container built
// with Scope falls back to its parent's cache for specs it has not
// overridden.
type Container struct {
	id     string
	parent *Container
	logger *slog.Logger

	mu        sync.Mutex
	overrides map[*Spec]*Spec
	creating  map[*Spec]bool
	order     []*Instance

	specs *TypeSafeCache[*Instance]
	ids   *TypeSafeCache[*Instance]

	extensions []Extension
	graph      *InstanceGraph
	onCreate   *Emitter[*Instance]
	onDispose  *Emitter[*Instance]
	counter    atomic.Uint64
	tags       sync.Map
}

// ContainerOption configures a container at construction.
type ContainerOption func(*Container)

// WithExtension registers a lifecycle extension. The first registered
// extension wraps outermost.
func WithExtension(ext Extension) ContainerOption {
	return func(c *Container) { c.extensions = append(c.extensions, ext) }
}

// WithOverride substitutes replacement wherever original is requested,
// including transitively through Use.
func WithOverride(original, replacement *Spec) ContainerOption {
	return func(c *Container) { c.overrides[original] = replacement }
}

// WithLogger sets the container's logger, inherited by stores and effects.
func WithLogger(l *slog.Logger) ContainerOption {
	return func(c *Container) { c.logger = l }
}

// WithContainerTag attaches typed metadata at construction.
func WithContainerTag[T any](tag Tag[T], val T) ContainerOption {
	return func(c *Container) { c.SetTag(tag, val) }
}

// New creates a container.
func New(opts ...ContainerOption) *Container {
	c := &Container{
		id:        uuid.NewString(),
		logger:    slog.Default(),
		overrides: make(map[*Spec]*Spec),
		creating:  make(map[*Spec]bool),
		specs:     NewTypeSafeCache[*Instance](),
		ids:       NewTypeSafeCache[*Instance](),
		graph:     NewInstanceGraph(),
		onCreate:  NewEmitter[*Instance](),
		onDispose: NewEmitter[*Instance](),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, ext := range c.extensions {
		if err := ext.Init(c); err != nil {
			c.logger.Error("extension init failed", "extension", ext.Name(), "err", err)
		}
	}
	return c
}

// ID returns the container's unique id.
func (c *Container) ID() string { return c.id }

// Logger returns the container's logger.
func (c *Container) Logger() *slog.Logger { return c.logger }

// GetTag retrieves container metadata.
func (c *Container) GetTag(tag any) (any, bool) {
	return c.tags.Load(tag)
}

// SetTag stores container metadata.
func (c *Container) SetTag(tag any, val any) {
	c.tags.Store(tag, val)
}

// Set installs an override after construction. Cached instances of original
// are unaffected; Dispose them first to force a rebuild.
func (c *Container) Set(original, replacement *Spec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[original] = replacement
}

func (c *Container) resolveSpec(spec *Spec) (*Spec, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if repl, ok := c.overrides[spec]; ok {
		return repl, true
	}
	return spec, false
}

// lookupCached searches this container and, when the spec is not locally
// overridden, the parent chain.
func (c *Container) lookupCached(spec *Spec) (*Instance, bool) {
	resolved, overridden := c.resolveSpec(spec)
	if inst, ok := c.specs.Load(resolved); ok {
		return inst, true
	}
	if !overridden && c.parent != nil {
		return c.parent.lookupCached(spec)
	}
	return nil, false
}

// Get returns the cached instance for spec, building it on first request.
func (c *Container) Get(spec *Spec) (*Instance, error) {
	if inst, ok := c.lookupCached(spec); ok {
		return inst, nil
	}
	resolved, _ := c.resolveSpec(spec)

	c.mu.Lock()
	if c.creating[resolved] {
		c.mu.Unlock()
		return nil, NewCircularDependencyError(resolved)
	}
	c.creating[resolved] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.creating, resolved)
		c.mu.Unlock()
	}()

	// Another goroutine may have finished the build while we queued.
	if inst, ok := c.specs.Load(resolved); ok {
		return inst, nil
	}

	inst, err := c.buildWrapped(resolved)
	if err != nil {
		return nil, err
	}

	c.specs.Store(resolved, inst)
	c.ids.Store(inst.id, inst)
	c.mu.Lock()
	c.order = append(c.order, inst)
	c.mu.Unlock()

	c.onCreate.Emit(inst)
	for _, ext := range c.extensions {
		ext.OnCreate(inst)
	}
	return inst, nil
}

// buildWrapped runs the build through the extension middleware chain. The
// first registered extension wraps outermost; failures are reported to every
// extension's OnError.
func (c *Container) buildWrapped(spec *Spec) (*Instance, error) {
	op := &Operation{Kind: OpCreate, Spec: spec, Container: c}
	build := func() (*Instance, error) {
		return c.build(spec)
	}
	for n := len(c.extensions) - 1; n >= 0; n-- {
		ext := c.extensions[n]
		next := build
		build = func() (*Instance, error) {
			return ext.Wrap(next, op)
		}
	}

	inst, err := build()
	if err != nil {
		for _, ext := range c.extensions {
			ext.OnError(err, op)
		}
		return nil, err
	}
	return inst, nil
}

// Create builds a fresh instance outside the spec cache. It still joins the
// creation order and the id index, so Clear tears it down with everything
// else, but a later Get for the same spec builds its own instance.
func (c *Container) Create(spec *Spec) (*Instance, error) {
	resolved, _ := c.resolveSpec(spec)

	inst, err := c.buildWrapped(resolved)
	if err != nil {
		return nil, err
	}

	c.ids.Store(inst.id, inst)
	c.mu.Lock()
	c.order = append(c.order, inst)
	c.mu.Unlock()

	c.onCreate.Emit(inst)
	for _, ext := range c.extensions {
		ext.OnCreate(inst)
	}
	return inst, nil
}

// MustGet is Get that panics on error, for wiring code whose specs are known
// to be sound.
func (c *Container) MustGet(spec *Spec) *Instance {
	inst, err := c.Get(spec)
	if err != nil {
		panic(err)
	}
	return inst
}

func (c *Container) build(spec *Spec) (*Instance, error) {
	id := fmt.Sprintf("%s-%d", spec.name, c.counter.Add(1))
	store := newStore(id, spec.state, spec.equality, c.logger)
	store.onDispatch = spec.onDispatch
	store.onError = spec.onError

	inst := &Instance{
		id:        id,
		spec:      spec,
		container: c,
		store:     store,
	}

	ctx := &SetupCtx{container: c, inst: inst, active: true}
	actions, err := c.runSetup(spec, ctx)
	ctx.active = false
	if err != nil {
		return nil, err
	}

	wrapped := make(Actions, len(actions))
	for name, fn := range actions {
		wrapped[name] = store.wrap(name, fn)
	}
	inst.actions = wrapped
	store.captureInitial()

	// Effects start only after the initial snapshot is frozen, so their
	// first run sees settled state.
	for _, e := range ctx.pending {
		eff := e
		if err := eff.Execute(); err != nil {
			inst.teardown()
			return nil, err
		}
		inst.addDisposer(eff.Dispose)
	}
	return inst, nil
}

func (c *Container) runSetup(spec *Spec, ctx *SetupCtx) (actions Actions, err error) {
	if spec.setup == nil {
		return Actions{}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(error); ok {
				err = NewSetupError(spec, re)
			} else {
				err = NewSetupError(spec, fmt.Errorf("panic: %v", r))
			}
		}
	}()
	WithHooks(Hooks{
		ScheduleEffect: func(e *Effect) {
			ctx.pending = append(ctx.pending, e)
		},
	}, func() {
		actions = spec.setup(ctx)
	})
	if ctx.err != nil {
		return nil, ctx.err
	}
	if actions == nil {
		actions = Actions{}
	}
	return actions, nil
}

// Has reports whether spec has a cached instance here or up the parent
// chain.
func (c *Container) Has(spec *Spec) bool {
	_, ok := c.lookupCached(spec)
	return ok
}

// Instance returns the cached instance with the given id.
func (c *Container) Instance(id string) (*Instance, bool) {
	return c.ids.Load(id)
}

// Instances returns cached instances in creation order.
func (c *Container) Instances() []*Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Instance, len(c.order))
	copy(out, c.order)
	return out
}

// Graph exposes the live dependency graph.
func (c *Container) Graph() *InstanceGraph {
	return c.graph
}

// OnCreate observes every instance built by this container.
func (c *Container) OnCreate(fn func(*Instance)) func() {
	return c.onCreate.On(fn)
}

// OnDispose observes every instance torn down by this container.
func (c *Container) OnDispose(fn func(*Instance)) func() {
	return c.onDispose.On(fn)
}

// Dispose tears down the cached instance for spec, if any.
func (c *Container) Dispose(spec *Spec) bool {
	resolved, _ := c.resolveSpec(spec)
	inst, ok := c.specs.Load(resolved)
	if !ok {
		return false
	}
	return c.disposeInstance(inst)
}

func (c *Container) disposeInstance(inst *Instance) bool {
	if !inst.teardown() {
		return false
	}
	// Uncached instances from Create may share a spec with a cached one.
	if cached, ok := c.specs.Load(inst.spec); ok && cached == inst {
		c.specs.Delete(inst.spec)
	}
	c.ids.Delete(inst.id)
	c.graph.Remove(inst)
	c.mu.Lock()
	for n, other := range c.order {
		if other == inst {
			c.order = append(c.order[:n], c.order[n+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.onDispose.Emit(inst)
	for _, ext := range c.extensions {
		ext.OnDispose(inst)
	}
	return true
}

// Clear tears down every cached instance in reverse creation order.
func (c *Container) Clear() {
	c.mu.Lock()
	order := make([]*Instance, len(c.order))
	copy(order, c.order)
	c.mu.Unlock()

	for n := len(order) - 1; n >= 0; n-- {
		c.disposeInstance(order[n])
	}
}

// Close clears the container and disposes its extensions.
func (c *Container) Close() error {
	c.Clear()
	var first error
	for _, ext := range c.extensions {
		if err := ext.Dispose(c); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Scope creates a child container. The child inherits extensions and logger,
// resolves uncached specs itself and falls back to this container's cache
// for specs it has not overridden. Inherited extensions are re-initialized
// against the child; an extension holding per-container state binds to the
// container it was initialized with last.
func (c *Container) Scope(opts ...ContainerOption) *Container {
	child := New(opts...)
	child.parent = c
	if child.logger == slog.Default() {
		child.logger = c.logger
	}
	for _, ext := range c.extensions {
		child.extensions = append(child.extensions, ext)
		if err := ext.Init(child); err != nil {
			child.logger.Error("extension init failed", "extension", ext.Name(), "err", err)
		}
	}
	return child
}
