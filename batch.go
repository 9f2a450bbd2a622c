package restate

import "sync"

// notificationBuffer collects scheduled notifications during a batch,
// deduplicating by key. The first insertion fixes a key's position; later
// insertions replace the callback in place, so flush order follows first
// appearance.
type notificationBuffer struct {
	order []string
	byKey map[string]func()
}

var bufferPool = sync.Pool{
	New: func() any {
		return &notificationBuffer{byKey: make(map[string]func())}
	},
}

func (b *notificationBuffer) put(key string, fn func()) {
	if _, seen := b.byKey[key]; !seen {
		b.order = append(b.order, key)
	}
	b.byKey[key] = fn
}

func (b *notificationBuffer) reset() {
	b.order = b.order[:0]
	for k := range b.byKey {
		delete(b.byKey, k)
	}
}

// Batch coalesces scheduled notifications while fn runs. Property emissions
// still fire synchronously per write; only keyed notifications (snapshot
// subscribers, effect reruns) collapse to one delivery per key, in first
// scheduling order, after fn returns.
//
// Nested batches merge into the outermost one: the inner flush re-schedules
// through the outer buffer, so delivery happens once, at the outermost exit.
func Batch(fn func()) {
	buf := bufferPool.Get().(*notificationBuffer)
	var mu sync.Mutex

	WithHooks(Hooks{
		ScheduleNotification: func(key string, cb func()) {
			mu.Lock()
			buf.put(key, cb)
			mu.Unlock()
		},
	}, fn)

	mu.Lock()
	keys := make([]string, len(buf.order))
	copy(keys, buf.order)
	cbs := make([]func(), len(keys))
	for n, key := range keys {
		cbs[n] = buf.byKey[key]
	}
	buf.reset()
	mu.Unlock()
	bufferPool.Put(buf)

	// The previous hooks are back in place here, so a nested batch hands
	// its entries to the enclosing buffer instead of running them.
	for n, key := range keys {
		scheduleNotification(key, cbs[n])
	}
}
