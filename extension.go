package restate

// Extension provides hooks into the container lifecycle
type Extension interface {
	// Name returns the extension's name
	Name() string

	// Order determines extension execution order (lower = earlier)
	Order() int

	// Init is called when the extension is registered to a container
	Init(c *Container) error

	// Wrap intercepts instance creation. The first registered extension is
	// the outermost wrapper.
	Wrap(next func() (*Instance, error), op *Operation) (*Instance, error)

	// OnCreate is called after an instance is built and cached
	OnCreate(inst *Instance)

	// OnDispose is called after an instance is torn down
	OnDispose(inst *Instance)

	// OnError handles errors during instance creation
	OnError(err error, op *Operation)

	// Dispose is called when the container is closed
	Dispose(c *Container) error
}

// BaseExtension provides default implementations for Extension methods
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a new base extension with the given name
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e *BaseExtension) Name() string {
	return e.name
}

func (e *BaseExtension) Order() int {
	return 100
}

func (e *BaseExtension) Init(c *Container) error {
	return nil
}

func (e *BaseExtension) Wrap(next func() (*Instance, error), op *Operation) (*Instance, error) {
	return next()
}

func (e *BaseExtension) OnCreate(inst *Instance) {
}

func (e *BaseExtension) OnDispose(inst *Instance) {
}

func (e *BaseExtension) OnError(err error, op *Operation) {
}

func (e *BaseExtension) Dispose(c *Container) error {
	return nil
}

// Operation describes what operation is happening
type Operation struct {
	Kind      OperationKind
	Spec      *Spec
	Container *Container
}

// OperationKind represents the type of operation
type OperationKind string

const (
	// OpCreate indicates an instance creation
	OpCreate OperationKind = "create"
	// OpDispose indicates an instance teardown
	OpDispose OperationKind = "dispose"
)
