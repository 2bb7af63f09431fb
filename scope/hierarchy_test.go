package scope_test

import (
	"testing"

	"github.com/delaneyj/ngscope/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildReadsThroughParent(t *testing.T) {
	root := newRoot(t, map[string]any{"x": 1, "y": "root"})
	child := root.New(map[string]any{"y": "child"})

	assert.Equal(t, 1, child.Get("x"))
	assert.Equal(t, "child", child.Get("y"))
	assert.Equal(t, "root", root.Get("y"))
	assert.Same(t, root, child.Parent())
	assert.Same(t, root, child.Root())
	assert.False(t, child.IsRoot())
	assert.Equal(t, []*scope.Scope{child}, root.Children())

	rec := &recorder{}
	_, err := child.WatchLazy("x", rec.listen)
	require.NoError(t, err)
	root.Set("x", 2)
	root.Flush()
	assert.Equal(t, []any{2}, rec.values)

	child.Set("x", 3)
	assert.Equal(t, 2, root.Get("x"), "writes shadow on the child")
}

func TestSiblingWritesDoNotCross(t *testing.T) {
	root := newRoot(t, nil)
	a := root.New(map[string]any{"v": 1})
	b := root.New(map[string]any{"v": 1})

	rec := &recorder{}
	_, err := a.WatchLazy("v", rec.listen)
	require.NoError(t, err)
	b.Set("v", 2)
	root.Flush()
	assert.Empty(t, rec.values)
}

func TestDestroyIsolatesTree(t *testing.T) {
	root := newRoot(t, map[string]any{"x": 0})
	a := root.New(nil)
	a1 := a.New(nil)
	b := root.New(nil)

	fired := map[string]int{}
	watch := func(s *scope.Scope, name string) {
		_, err := s.WatchLazy("x", func(any, *scope.Object) error {
			fired[name]++
			return nil
		})
		require.NoError(t, err)
	}
	watch(root, "root")
	watch(a, "a")
	watch(a1, "a1")
	watch(b, "b")
	assert.Equal(t, 4, root.WatchersCount())
	assert.Equal(t, 2, a.WatchersCount())

	var destroyed []uint64
	for _, s := range []*scope.Scope{a, a1} {
		s.On(scope.DestroyEvent, func(e *scope.Event, _ ...any) error {
			destroyed = append(destroyed, e.CurrentScope.ID())
			return nil
		})
	}

	a.Destroy()
	assert.Equal(t, []uint64{a.ID(), a1.ID()}, destroyed)
	assert.True(t, a.Destroyed())
	assert.True(t, a1.Destroyed())
	assert.Equal(t, []*scope.Scope{b}, root.Children())
	assert.Equal(t, 2, root.WatchersCount())
	assert.Equal(t, 2, root.Registry().Len())

	root.Set("x", 1)
	root.Flush()
	assert.Equal(t, map[string]int{"root": 1, "b": 1}, fired)

	a.Destroy()
	assert.Len(t, destroyed, 2)

	_, err := a.Watch("x", nil)
	assert.ErrorIs(t, err, scope.ErrDestroyed)
	assert.True(t, a.New(nil).Destroyed())
}

func TestDestroyRootClearsRegistry(t *testing.T) {
	root := newRoot(t, map[string]any{"x": 0})
	child := root.New(nil)
	_, err := child.WatchLazy("x", func(any, *scope.Object) error {
		assert.Fail(t, "listener survived root destroy")
		return nil
	})
	require.NoError(t, err)

	root.Destroy()
	assert.Equal(t, 0, root.Registry().Len())
	assert.True(t, child.Destroyed())
	root.Set("x", 1)
	root.Flush()
}

func TestIsolateScope(t *testing.T) {
	root := newRoot(t, map[string]any{"x": 1})
	iso := root.NewIsolate(map[string]any{"y": 2})

	assert.Nil(t, iso.Get("x"))
	assert.Equal(t, 2, iso.Get("y"))
	assert.True(t, iso.IsRoot())
	assert.Same(t, root, iso.Parent())
	assert.Contains(t, root.Children(), iso)

	_, err := iso.Watch("y", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, root.WatchersCount(), "isolates share the registry")

	heard := false
	root.On("ping", func(*scope.Event, ...any) error {
		heard = true
		return nil
	})
	iso.Emit("ping")
	assert.False(t, heard, "emit stops at the isolate boundary")

	root.Broadcast("ping")
	assert.True(t, heard)
}

func TestTranscluded(t *testing.T) {
	root := newRoot(t, nil)
	creator := root.New(map[string]any{"item": "from creator"})
	host := root.New(nil)

	tc := creator.Transcluded(host)
	assert.Same(t, host, tc.Parent())
	assert.Equal(t, []*scope.Scope{tc}, host.Children())
	assert.Empty(t, creator.Children())
	assert.Equal(t, "from creator", tc.Get("item"))

	host.Destroy()
	assert.True(t, tc.Destroyed())
	assert.False(t, creator.Destroyed())
}

func TestGetByIDAndName(t *testing.T) {
	root := newRoot(t, nil)
	a := root.New(nil)
	b := a.New(nil)
	b.SetName("leaf")

	assert.Same(t, b, root.GetByID(b.ID()))
	assert.Same(t, root, root.GetByID(root.ID()))
	assert.Nil(t, a.GetByID(root.ID()))
	assert.Same(t, b, root.SearchByName("leaf"))
	assert.Nil(t, root.SearchByName("missing"))
}

func TestForeignListener(t *testing.T) {
	sched := scope.NewScheduler()
	owner := scope.NewRoot(map[string]any{
		"shared": map[string]any{"name": "a"},
	}, scope.WithScheduler(sched))
	other := scope.NewRoot(nil, scope.WithScheduler(sched))

	shared := owner.Get("shared").(*scope.Object)
	other.Set("alias", shared)
	assert.Same(t, shared, other.Get("alias"), "aliased by reference")

	rec := &recorder{}
	_, err := other.WatchLazy("alias.name", rec.listen)
	require.NoError(t, err)

	shared.Set("name", "b")
	sched.Flush()
	assert.Equal(t, []any{"b"}, rec.values)
}

func TestForeignListenerHashKey(t *testing.T) {
	sched := scope.NewScheduler()
	owner := scope.NewRoot(map[string]any{
		"item": map[string]any{scope.HashKey: "h1", "name": "a"},
	}, scope.WithScheduler(sched))
	other := scope.NewRoot(nil, scope.WithScheduler(sched))
	item := owner.Get("item").(*scope.Object)
	other.Set("alias", item)

	rec := &recorder{}
	_, err := other.WatchLazy("alias.name", rec.listen)
	require.NoError(t, err)

	item.Set("name", "b")
	sched.Flush()
	assert.Empty(t, rec.values, "target does not share the repeat identity")

	other.Set(scope.HashKey, "h1")
	item.Set("name", "c")
	sched.Flush()
	assert.Equal(t, []any{"c"}, rec.values)
}

func TestDestroyDropsQueuedWork(t *testing.T) {
	root := newRoot(t, nil)
	child := root.New(nil)

	_, err := child.Watch("1 + 1", func(any, *scope.Object) error {
		assert.Fail(t, "constant watch ran after destroy")
		return nil
	})
	require.NoError(t, err)
	_, err = child.Watch("y = 2", nil)
	require.NoError(t, err)
	require.NoError(t, child.EvalAsync("x = 1", nil))
	_, err = child.WatchGroup([]string{"a", "b"}, func([]any, *scope.Object) error {
		assert.Fail(t, "group watch ran after destroy")
		return nil
	})
	require.NoError(t, err)

	child.Destroy()
	root.Flush()
	assert.Nil(t, child.Get("x"))
	assert.Nil(t, child.Get("y"))
}
