// Package restate provides a dependency-tracking state runtime and instance
// container for Go.
//
// # Overview
//
// Restate organizes code around three core concepts:
//
//  1. Specs: blueprints pairing an initial state template with a setup
//     function that produces actions
//  2. Containers: lifecycle managers that build, cache and tear down
//     instances of specs
//  3. Effects: re-runnable tracked computations that subscribe to the
//     properties they read
//
// # Basic Usage
//
// Define a spec and resolve it through a container:
//
//	counter := restate.NewSpec("counter",
//	    map[string]any{"count": 0},
//	    func(ctx *restate.SetupCtx) restate.Actions {
//	        state := ctx.State()
//	        return restate.Actions{
//	            "increment": func(args ...any) (any, error) {
//	                n := state.Get("count").(int)
//	                state.Set("count", n+1)
//	                return n + 1, nil
//	            },
//	        }
//	    })
//
//	c := restate.New()
//	inst, err := c.Get(counter)
//	inst.Call("increment")
//
// # Tracked Reads and Writes
//
// Every state read and write flows through an ambient hook registry. An
// effect runs its body with read interception installed, records which
// properties it touched, and subscribes to exactly those:
//
//	ctx.Effect(func(ec *restate.EffectCtx) error {
//	    n := state.Get("count").(int) // tracked
//	    log.Println("count is", n)
//	    return nil
//	})
//
// Writes are equality-gated: setting a property to a value that compares
// equal under the spec's equality configuration changes nothing and notifies
// nobody. Properties an effect writes during a run are excluded from its
// subscription set, so read-modify-write effects do not retrigger
// themselves.
//
// # Derived Values
//
// Pick collapses a multi-property computation into a single dependency. The
// enclosing effect re-runs only when the derived value itself changes:
//
//	full, _ := restate.Pick(func() any {
//	    return state.Get("first").(string) + " " + state.Get("last").(string)
//	}, nil)
//
// # Lifetimes
//
// Specs default to keepAlive: instances live until the container clears.
// WithAutoDispose opts into refcounted teardown, where the instance is
// disposed a grace period after its last external subscriber leaves. A
// keepAlive spec may not depend on an autoDispose spec.
//
// # Batching
//
// Batch coalesces snapshot notifications and effect reruns across a group of
// writes, delivering once per key when the outermost batch exits:
//
//	restate.Batch(func() {
//	    inst.Call("increment")
//	    inst.Call("increment")
//	})
//
// # Extensions
//
// Containers accept lifecycle extensions that wrap instance creation and
// observe teardown, in the manner of middleware. See the extensions
// subpackage for logging and graph inspection.
package restate
