package restate

import (
	"testing"
)

func TestWithHooks_RestoresOnPanic(t *testing.T) {
	marker := func(Dependency) {}
	func() {
		defer func() { recover() }()
		WithHooks(Hooks{OnRead: marker}, func() {
			panic("boom")
		})
	}()
	if activeHooks().OnRead != nil {
		t.Fatal("hooks not restored after panic")
	}
}

func TestWithHooks_MergeKeepsOuterFields(t *testing.T) {
	var reads, writes int
	WithHooks(Hooks{
		OnRead:  func(Dependency) { reads++ },
		OnWrite: func(string, string, any, any) { writes++ },
	}, func() {
		// Inner scope patches only OnRead; the outer OnWrite stays active.
		WithHooks(Hooks{OnRead: func(Dependency) { reads += 10 }}, func() {
			trackRead(Dependency{InstanceID: "a", Prop: "p"})
			trackWrite("a", "p", 1, 0)
		})
		trackRead(Dependency{InstanceID: "a", Prop: "p"})
	})

	if reads != 11 {
		t.Fatalf("expected inner then outer OnRead (11), got %d", reads)
	}
	if writes != 1 {
		t.Fatalf("outer OnWrite should survive inner patch, got %d", writes)
	}
}

func TestWithHooksFrom_ComposesWithActive(t *testing.T) {
	var order []string
	WithHooks(Hooks{OnRead: func(Dependency) { order = append(order, "outer") }}, func() {
		WithHooksFrom(func(active Hooks) Hooks {
			outer := active.OnRead
			active.OnRead = func(dep Dependency) {
				order = append(order, "inner")
				outer(dep)
			}
			return active
		}, func() {
			trackRead(Dependency{InstanceID: "x", Prop: "y"})
		})
	})

	if len(order) != 2 || order[0] != "inner" || order[1] != "outer" {
		t.Fatalf("expected inner hook to call through to outer, got %v", order)
	}
}

func TestScheduleNotification_DefaultIsImmediate(t *testing.T) {
	ran := false
	scheduleNotification("k", func() { ran = true })
	if !ran {
		t.Fatal("top-level notification should run immediately")
	}
}
