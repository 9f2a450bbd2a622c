package restate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(state map[string]any, cfg *EqualityConfig) *Store {
	return newStore("test-1", state, cfg, nil)
}

func TestStore_EqualWriteIsDropped(t *testing.T) {
	s := newTestStore(map[string]any{"count": 0}, nil)

	notified := 0
	s.propEmitter("count").On(func(Change) { notified++ })

	before := s.rawSnapshot()
	s.Set("count", 0)
	assert.Equal(t, 0, notified, "equal write must not notify")
	assert.True(t, identityEqual(before, s.rawSnapshot()), "equal write must keep the snapshot")

	s.Set("count", 1)
	assert.Equal(t, 1, notified)
	assert.Equal(t, 1, s.Get("count"))
}

func TestStore_WriteReportedBeforeGating(t *testing.T) {
	s := newTestStore(map[string]any{"count": 0}, nil)

	var writes []string
	WithHooks(Hooks{OnWrite: func(id, prop string, next, prev any) {
		writes = append(writes, prop)
	}}, func() {
		s.Set("count", 0) // gated, but still reported
		s.Set("count", 1)
	})
	assert.Equal(t, []string{"count", "count"}, writes)
}

func TestStore_CustomEqualityPerProp(t *testing.T) {
	s := newTestStore(map[string]any{"items": []int{1, 2}}, &EqualityConfig{
		Props: map[string]Equal{"items": Deep()},
	})

	notified := 0
	s.propEmitter("items").On(func(Change) { notified++ })

	s.Set("items", []int{1, 2})
	assert.Equal(t, 0, notified, "deep-equal slice must be gated")

	s.Set("items", []int{1, 2, 3})
	assert.Equal(t, 1, notified)
}

func TestStore_UpdateKeepsEqualReferences(t *testing.T) {
	original := []int{1, 2}
	s := newTestStore(map[string]any{"items": original, "count": 0}, &EqualityConfig{
		Props: map[string]Equal{"items": Deep()},
	})

	notifications := map[string]int{}
	s.propEmitter("items").On(func(Change) { notifications["items"]++ })
	s.propEmitter("count").On(func(Change) { notifications["count"]++ })

	s.Update(func(draft map[string]any) {
		draft["items"] = []int{1, 2} // deep-equal replacement
		draft["count"] = 5
	})

	assert.Equal(t, 0, notifications["items"])
	assert.Equal(t, 1, notifications["count"])
	assert.True(t, identityEqual(original, s.Get("items")),
		"equal field must keep its old reference")
	assert.Equal(t, 5, s.Get("count"))
}

func TestStore_MergeOnlyTouchesGivenProps(t *testing.T) {
	s := newTestStore(map[string]any{"a": 1, "b": 2}, nil)

	notified := map[string]int{}
	s.propEmitter("a").On(func(Change) { notified["a"]++ })
	s.propEmitter("b").On(func(Change) { notified["b"]++ })

	s.Merge(map[string]any{"b": 3})
	assert.Equal(t, 0, notified["a"])
	assert.Equal(t, 1, notified["b"])
	assert.Equal(t, 1, s.Get("a"))
	assert.Equal(t, 3, s.Get("b"))
}

func TestStore_TrackedGet(t *testing.T) {
	s := newTestStore(map[string]any{"count": 7}, nil)

	var dep Dependency
	WithHooks(Hooks{OnRead: func(d Dependency) { dep = d }}, func() {
		s.Get("count")
	})

	require.NotNil(t, dep.Subscribe)
	assert.Equal(t, "test-1/count", dep.Key())
	assert.Equal(t, 7, dep.Value)

	fired := 0
	off := dep.Subscribe(func() { fired++ })
	s.Set("count", 8)
	assert.Equal(t, 1, fired)
	off()
	s.Set("count", 9)
	assert.Equal(t, 1, fired)
}

func TestStore_DispatchRecords(t *testing.T) {
	s := newTestStore(map[string]any{"count": 0}, nil)

	inc := s.wrap("increment", func(args ...any) (any, error) {
		s.Set("count", s.Get("count").(int)+1)
		return nil, nil
	})

	var wildcard []Dispatch
	s.dispatchEmitter("*").On(func(d Dispatch) { wildcard = append(wildcard, d) })

	_, err := inc()
	require.NoError(t, err)
	_, err = inc()
	require.NoError(t, err)

	require.Len(t, wildcard, 2)
	assert.Equal(t, "increment", wildcard[0].Name)
	assert.Equal(t, 1, wildcard[0].Nth)
	assert.Equal(t, 2, wildcard[1].Nth)
	assert.False(t, wildcard[1].Time.IsZero())

	last := s.LastDispatch()
	require.NotNil(t, last)
	assert.Equal(t, 2, last.Nth)
}

func TestStore_ActionErrorIsRecorded(t *testing.T) {
	s := newTestStore(map[string]any{}, nil)
	boom := errors.New("boom")

	var seenErr error
	var seenRec Dispatch
	s.onError = func(err error, rec Dispatch) { seenErr, seenRec = err, rec }

	fail := s.wrap("fail", func(args ...any) (any, error) {
		return nil, boom
	})

	var delivered Dispatch
	s.dispatchEmitter("fail").On(func(d Dispatch) { delivered = d })

	_, err := fail()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, seenErr, boom)
	assert.Equal(t, "fail", seenRec.Name)
	assert.ErrorIs(t, delivered.Err, boom)
}

func TestStore_ActionPanicBecomesError(t *testing.T) {
	s := newTestStore(map[string]any{}, nil)
	kaboom := s.wrap("kaboom", func(args ...any) (any, error) {
		panic("oops")
	})
	_, err := kaboom()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")
}

func TestStore_DisposedRejectsActions(t *testing.T) {
	s := newTestStore(map[string]any{}, nil)
	noop := s.wrap("noop", func(args ...any) (any, error) { return nil, nil })

	s.dispose()
	_, err := noop()
	var de *DisposedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "noop", de.Action)
}

func TestStore_DirtyAndReset(t *testing.T) {
	s := newTestStore(map[string]any{"count": 0, "name": "x"}, nil)
	s.captureInitial()

	assert.False(t, s.Dirty())

	s.Set("count", 3)
	assert.True(t, s.Dirty())
	assert.True(t, s.Dirty("count"))
	assert.False(t, s.Dirty("name"))

	notified := 0
	s.propEmitter("count").On(func(Change) { notified++ })
	nameNotified := 0
	s.propEmitter("name").On(func(Change) { nameNotified++ })

	s.Reset()
	assert.False(t, s.Dirty())
	assert.Equal(t, 0, s.Get("count"))
	assert.Equal(t, 1, notified, "reset notifies changed props")
	assert.Equal(t, 0, nameNotified, "reset skips unchanged props")
}

func TestStore_ReadOnlyViewRejectsWrites(t *testing.T) {
	s := newTestStore(map[string]any{"count": 0}, nil)
	v := View{store: s}

	v.Set("count", 99)
	assert.Equal(t, 0, s.Get("count"), "read-only view must drop writes")

	w := View{store: s, writable: true}
	w.Set("count", 1)
	assert.Equal(t, 1, s.Get("count"))
}
