package extensions

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	restate "github.com/pumped-fn/restate-go"
)

func TestLoggingExtension_CreateAndDispose(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	c := restate.New(restate.WithExtension(NewLoggingExtension(logger)))

	spec := restate.NewSpec("svc", map[string]any{}, nil)
	if _, err := c.Get(spec); err != nil {
		t.Fatalf("create: %v", err)
	}
	c.Close()

	out := buf.String()
	if !strings.Contains(out, "instance created") {
		t.Fatalf("missing creation log:\n%s", out)
	}
	if !strings.Contains(out, "instance disposed") {
		t.Fatalf("missing disposal log:\n%s", out)
	}
}

func TestLoggingExtension_DispatchLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	c := restate.New(restate.WithExtension(NewLoggingExtension(logger, WithDispatchLogging())))
	defer c.Close()

	spec := restate.NewSpec("svc", map[string]any{"n": 0},
		func(ctx *restate.SetupCtx) restate.Actions {
			state := ctx.State()
			return restate.Actions{
				"bump": func(args ...any) (any, error) {
					state.Set("n", state.Get("n").(int)+1)
					return nil, nil
				},
			}
		})

	inst, err := c.Get(spec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := inst.Call("bump"); err != nil {
		t.Fatalf("bump: %v", err)
	}

	if !strings.Contains(buf.String(), "action dispatched") {
		t.Fatalf("missing dispatch log:\n%s", buf.String())
	}
}

func TestLoggingExtension_CreationFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	c := restate.New(restate.WithExtension(NewLoggingExtension(logger)))
	defer c.Close()

	broken := restate.NewSpec("broken", map[string]any{},
		func(ctx *restate.SetupCtx) restate.Actions {
			panic("nope")
		})

	if _, err := c.Get(broken); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(buf.String(), "instance creation failed") {
		t.Fatalf("missing failure log:\n%s", buf.String())
	}
}
