package extensions

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	restate "github.com/pumped-fn/restate-go"
)

func TestInspectExtension_RendersDependencyTree(t *testing.T) {
	ext := NewInspectExtension(NewSilentHandler())
	c := restate.New(restate.WithExtension(ext))
	defer c.Close()

	config := restate.NewSpec("config", map[string]any{"step": 1}, nil)
	counter := restate.NewSpec("counter", map[string]any{"count": 0},
		func(ctx *restate.SetupCtx) restate.Actions {
			if _, err := ctx.Use(config); err != nil {
				panic(err)
			}
			return restate.Actions{}
		})

	if _, err := c.Get(counter); err != nil {
		t.Fatalf("create counter: %v", err)
	}

	out := ext.Render()
	if !strings.Contains(out, "counter-") {
		t.Fatalf("render missing root instance:\n%s", out)
	}
	if !strings.Contains(out, "config-") {
		t.Fatalf("render missing dependency:\n%s", out)
	}
}

func TestInspectExtension_EmptyContainer(t *testing.T) {
	ext := NewInspectExtension(NewSilentHandler())
	c := restate.New(restate.WithExtension(ext))
	defer c.Close()

	if got := ext.Render(); !strings.Contains(got, "empty") {
		t.Fatalf("expected empty marker, got %q", got)
	}
}

func TestInspectExtension_LogsOnCreationError(t *testing.T) {
	var buf bytes.Buffer
	ext := NewInspectExtension(NewHumanHandler(&buf, slog.LevelError))
	c := restate.New(restate.WithExtension(ext))
	defer c.Close()

	broken := restate.NewSpec("broken", map[string]any{},
		func(ctx *restate.SetupCtx) restate.Actions {
			panic("nope")
		})

	if _, err := c.Get(broken); err == nil {
		t.Fatal("expected creation error")
	}
	if !strings.Contains(buf.String(), "broken") {
		t.Fatalf("error log missing spec name:\n%s", buf.String())
	}
}

func TestSilentHandler_DiscardsEverything(t *testing.T) {
	h := NewSilentHandler()
	if h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("silent handler must never be enabled")
	}
}

func TestHumanHandler_MultilineAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHumanHandler(&buf, slog.LevelInfo))

	logger.Info("graph dump", "tree", "a\n  b\n  c")

	out := buf.String()
	if !strings.Contains(out, "graph dump") {
		t.Fatalf("missing message: %q", out)
	}
	if !strings.Contains(out, "tree:\n") {
		t.Fatalf("multiline attr should start on its own line: %q", out)
	}
}
