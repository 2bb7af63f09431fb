package scope_test

import (
	"testing"

	"github.com/delaneyj/ngscope/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerCounters(t *testing.T) {
	sched := scope.NewScheduler()
	root := scope.NewRoot(map[string]any{"a": 1, "b": 1}, scope.WithScheduler(sched))
	assert.Same(t, sched, root.Registry().Scheduler())

	_, err := root.Watch("a", nil)
	require.NoError(t, err)
	_, err = root.Watch("b", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sched.Pending())

	assert.Equal(t, 2, sched.Flush())
	assert.Zero(t, sched.Pending())
	assert.Equal(t, uint64(1), sched.Flushes())
	assert.Equal(t, uint64(2), sched.Notified())

	assert.Zero(t, sched.Flush())
	assert.Equal(t, uint64(1), sched.Flushes())
}

func TestSharedSchedulerOrder(t *testing.T) {
	sched := scope.NewScheduler()
	one := scope.NewRoot(map[string]any{"x": 0}, scope.WithScheduler(sched))
	two := scope.NewRoot(map[string]any{"x": 0}, scope.WithScheduler(sched))

	var order []string
	_, err := two.WatchLazy("x", func(any, *scope.Object) error {
		order = append(order, "two")
		return nil
	})
	require.NoError(t, err)
	_, err = one.WatchLazy("x", func(any, *scope.Object) error {
		order = append(order, "one")
		return nil
	})
	require.NoError(t, err)

	one.Set("x", 1)
	two.Set("x", 1)
	one.Flush()
	assert.Equal(t, []string{"one", "two"}, order, "first in, first out")
}

func TestSetTTLIgnoresNonPositive(t *testing.T) {
	var errs []error
	sched := scope.NewScheduler()
	sched.SetTTL(0)
	root := scope.NewRoot(map[string]any{"x": 0},
		scope.WithScheduler(sched),
		scope.WithErrorHandler(func(err error) { errs = append(errs, err) }),
	)
	calls := 0
	_, err := root.WatchLazy("x", func(v any, target *scope.Object) error {
		calls++
		target.Set("x", v.(int)+1)
		return nil
	})
	require.NoError(t, err)

	root.Set("x", 1)
	root.Flush()
	assert.Equal(t, scope.DefaultTTL, calls)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], scope.ErrInfiniteDigest)
}
