package scope_test

import (
	"errors"
	"testing"

	"github.com/delaneyj/ngscope/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastOrder(t *testing.T) {
	root := newRoot(t, nil)
	a := root.New(nil)
	b := root.New(nil)
	a1 := a.New(nil)

	var order []string
	listen := func(s *scope.Scope, name string) {
		s.On("x", func(e *scope.Event, _ ...any) error {
			order = append(order, name)
			assert.Same(t, root, e.TargetScope)
			assert.Same(t, s, e.CurrentScope)
			return nil
		})
	}
	listen(b, "b")
	listen(a1, "a1")
	listen(a, "a")
	listen(root, "root")

	e := root.Broadcast("x")
	assert.Equal(t, []string{"root", "a", "a1", "b"}, order)
	assert.Nil(t, e.CurrentScope)
}

func TestEmitWalksAncestors(t *testing.T) {
	root := newRoot(t, nil)
	mid := root.New(nil)
	leaf := mid.New(nil)

	var order []string
	root.On("x", func(e *scope.Event, args ...any) error {
		order = append(order, "root")
		assert.Equal(t, []any{1, "two"}, args)
		assert.Same(t, leaf, e.TargetScope)
		return nil
	})
	mid.On("x", func(*scope.Event, ...any) error {
		order = append(order, "mid")
		return nil
	})

	leaf.Emit("x", 1, "two")
	assert.Equal(t, []string{"mid", "root"}, order)
}

func TestStopPropagation(t *testing.T) {
	root := newRoot(t, nil)
	child := root.New(nil)

	rootHeard := false
	root.On("x", func(*scope.Event, ...any) error {
		rootHeard = true
		return nil
	})
	child.On("x", func(e *scope.Event, _ ...any) error {
		e.StopPropagation()
		e.PreventDefault()
		return nil
	})

	e := child.Emit("x")
	assert.False(t, rootHeard)
	assert.True(t, e.Stopped())
	assert.True(t, e.DefaultPrevented)
}

func TestHandlerRemovingItself(t *testing.T) {
	root := newRoot(t, nil)
	var order []string
	var off scope.Deregister
	off = root.On("x", func(*scope.Event, ...any) error {
		order = append(order, "first")
		off()
		return nil
	})
	root.On("x", func(*scope.Event, ...any) error {
		order = append(order, "second")
		return nil
	})

	root.Broadcast("x")
	root.Broadcast("x")
	assert.Equal(t, []string{"first", "second", "second"}, order)

	off()
}

func TestDeregisterLastHandler(t *testing.T) {
	root := newRoot(t, nil)
	calls := 0
	off := root.On("x", func(*scope.Event, ...any) error {
		calls++
		return nil
	})
	off()
	root.Emit("x")
	root.Broadcast("x")
	assert.Zero(t, calls)
}

func TestEventErrorsAreReported(t *testing.T) {
	var errs []error
	root := scope.NewRoot(nil, scope.WithErrorHandler(func(err error) {
		errs = append(errs, err)
	}))
	boom := errors.New("boom")
	root.On("x", func(*scope.Event, ...any) error { return boom })
	reached := false
	root.On("x", func(*scope.Event, ...any) error {
		reached = true
		return nil
	})

	root.Emit("x")
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
	assert.True(t, reached)
}

func TestOnDestroyedScope(t *testing.T) {
	root := newRoot(t, nil)
	child := root.New(nil)
	child.Destroy()

	off := child.On("x", func(*scope.Event, ...any) error {
		assert.Fail(t, "handler on destroyed scope")
		return nil
	})
	off()
	child.Broadcast("x")
	child.Emit("x")
}
