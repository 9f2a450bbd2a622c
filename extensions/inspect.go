package extensions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/m1gwings/treedrawer/tree"

	restate "github.com/pumped-fn/restate-go"
)

// InspectExtension tracks instance creation and renders the dependency graph
// as a drawn tree, both on demand and when creation fails.
//
// Usage:
//
//	// Human-readable formatted output (with line breaks)
//	handler := extensions.NewHumanHandler(os.Stdout, slog.LevelError)
//	ext := extensions.NewInspectExtension(handler)
//
//	// Structured JSON logging (compact, machine-readable)
//	handler := slog.NewJSONHandler(os.Stdout, nil)
//	ext := extensions.NewInspectExtension(handler)
//
//	// Silent (for testing)
//	ext := extensions.NewInspectExtension(extensions.NewSilentHandler())
type InspectExtension struct {
	restate.BaseExtension
	logger *slog.Logger

	mu        sync.Mutex
	container *restate.Container
	created   map[string]bool
	failed    map[string]error
}

// NewInspectExtension creates a new inspect extension.
func NewInspectExtension(logHandler slog.Handler) *InspectExtension {
	return &InspectExtension{
		BaseExtension: restate.NewBaseExtension("inspect"),
		logger:        slog.New(logHandler),
		created:       make(map[string]bool),
		failed:        make(map[string]error),
	}
}

func (e *InspectExtension) Init(c *restate.Container) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.container = c
	return nil
}

func (e *InspectExtension) Wrap(next func() (*restate.Instance, error), op *restate.Operation) (*restate.Instance, error) {
	inst, err := next()
	e.mu.Lock()
	if err != nil {
		e.failed[op.Spec.Name()] = err
	} else {
		e.created[op.Spec.Name()] = true
	}
	e.mu.Unlock()
	return inst, err
}

// OnError logs the dependency graph when instance creation fails.
func (e *InspectExtension) OnError(err error, op *restate.Operation) {
	e.logger.Error("instance creation error",
		"spec", op.Spec.Name(),
		"error", err.Error(),
		"operation", string(op.Kind),
		"dependency_graph", e.renderGraph(),
	)
}

func (e *InspectExtension) OnDispose(inst *restate.Instance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.created, inst.Spec().Name())
}

// Render draws the container's live instances with their direct
// dependencies, one tree per root instance.
func (e *InspectExtension) Render() string {
	return e.renderGraph()
}

func (e *InspectExtension) renderGraph() string {
	e.mu.Lock()
	c := e.container
	e.mu.Unlock()
	if c == nil {
		return "(no container attached)"
	}
	instances := c.Instances()
	if len(instances) == 0 {
		return "(empty - no instances created)"
	}

	graph := c.Graph()
	dependent := make(map[*restate.Instance]bool)
	for _, inst := range instances {
		for _, dep := range graph.GetDirectDependencies(inst) {
			dependent[dep] = true
		}
	}

	var sb strings.Builder
	for _, inst := range instances {
		// Instances that something else depends on appear as children of
		// their dependents, not as roots.
		if dependent[inst] {
			continue
		}
		t := tree.NewTree(tree.NodeString(e.label(inst)))
		e.addDependencies(t, graph, inst, make(map[*restate.Instance]bool))
		sb.WriteString(t.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e *InspectExtension) addDependencies(t *tree.Tree, graph *restate.InstanceGraph, inst *restate.Instance, seen map[*restate.Instance]bool) {
	if seen[inst] {
		return
	}
	seen[inst] = true
	for _, dep := range graph.GetDirectDependencies(inst) {
		child := t.AddChild(tree.NodeString(e.label(dep)))
		e.addDependencies(child, graph, dep, seen)
	}
}

func (e *InspectExtension) label(inst *restate.Instance) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := inst.ID()
	if err, failed := e.failed[inst.Spec().Name()]; failed {
		return fmt.Sprintf("%s (error: %v)", name, err)
	}
	if inst.Disposed() {
		return name + " (disposed)"
	}
	return name
}

// SilentHandler is a slog.Handler that discards all log output
// Useful for testing when you don't want log output
type SilentHandler struct{}

// NewSilentHandler creates a new silent log handler
func NewSilentHandler() *SilentHandler {
	return &SilentHandler{}
}

func (h *SilentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return false
}

func (h *SilentHandler) Handle(ctx context.Context, record slog.Record) error {
	return nil
}

func (h *SilentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *SilentHandler) WithGroup(name string) slog.Handler {
	return h
}

// HumanHandler is a slog.Handler that formats logs for human readability
// with proper line breaks, which matters for multi-line graph renderings.
type HumanHandler struct {
	writer io.Writer
	level  slog.Level
	mu     sync.Mutex
}

// NewHumanHandler creates a new human-readable log handler
func NewHumanHandler(writer io.Writer, level slog.Level) *HumanHandler {
	return &HumanHandler{writer: writer, level: level}
}

func (h *HumanHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *HumanHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.writer, "[%s] %s\n", record.Level, record.Message)
	record.Attrs(func(a slog.Attr) bool {
		val := a.Value.String()
		if strings.Contains(val, "\n") {
			fmt.Fprintf(h.writer, "  %s:\n%s\n", a.Key, val)
		} else {
			fmt.Fprintf(h.writer, "  %s: %s\n", a.Key, val)
		}
		return true
	})
	return nil
}

func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *HumanHandler) WithGroup(name string) slog.Handler {
	return h
}
