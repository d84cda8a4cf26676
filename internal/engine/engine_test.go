package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpipe/internal/faults"
	"taskpipe/internal/limiter"
	"taskpipe/internal/result"
	"taskpipe/internal/task"
)

func newEngine(t *testing.T, limit int, work task.WorkFunc) (*Engine, *limiter.Limiter) {
	t.Helper()
	l, err := limiter.New(limit)
	require.NoError(t, err)
	u, err := task.NewUnit(l, work, nil)
	require.NoError(t, err)
	e, err := New(u, nil)
	require.NoError(t, err)
	return e, l
}

func TestExecuteBatchReturnsAllInOrder(t *testing.T) {
	for _, count := range []int{0, 1, 5, 17} {
		e, _ := newEngine(t, 3, task.Simulated(time.Millisecond, nil))

		items, err := e.ExecuteBatch(context.Background(), count)
		require.NoError(t, err)
		require.Len(t, items, count)
		for i, it := range items {
			assert.Equal(t, task.TaskID(i), it.ID)
			require.True(t, it.Result.IsSuccess())
			assert.Equal(t, task.Label(task.TaskID(i)), it.Result.Value())
		}
	}
}

func TestExecuteBatchOrderIndependentOfCompletion(t *testing.T) {
	// later ids finish first
	work := func(ctx context.Context, id task.TaskID) (task.Outcome, error) {
		time.Sleep(time.Duration(10-int(id)) * 2 * time.Millisecond)
		return task.Label(id), nil
	}
	e, _ := newEngine(t, 10, work)

	items, err := e.ExecuteBatch(context.Background(), 10)
	require.NoError(t, err)
	for i, it := range items {
		assert.Equal(t, task.TaskID(i), it.ID)
		assert.Equal(t, task.Label(task.TaskID(i)), it.Result.Value())
	}
}

func TestExecuteBatchRespectsLimit(t *testing.T) {
	for _, limit := range []int{1, 2, 4} {
		var (
			mu      sync.Mutex
			current int
			maxSeen int
		)
		work := func(ctx context.Context, id task.TaskID) (task.Outcome, error) {
			mu.Lock()
			current++
			if current > maxSeen {
				maxSeen = current
			}
			mu.Unlock()
			time.Sleep(3 * time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			return task.Label(id), nil
		}
		e, l := newEngine(t, limit, work)

		_, err := e.ExecuteBatch(context.Background(), 12)
		require.NoError(t, err)
		assert.LessOrEqual(t, maxSeen, limit)
		assert.LessOrEqual(t, l.Peak(), limit)
		assert.Equal(t, 0, l.InFlight())
	}
}

func TestExecuteBatchKeepsRunningAfterFailure(t *testing.T) {
	e, _ := newEngine(t, 2, task.Simulated(time.Millisecond, task.NewFaultSet(1, 3)))

	items, err := e.ExecuteBatch(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, items, 5)

	for _, i := range []int{1, 3} {
		assert.True(t, items[i].Result.IsFailure(), "item %d", i)
		assert.ErrorIs(t, items[i].Result.Err(), faults.ErrTaskFailure)
	}
	for _, i := range []int{0, 2, 4} {
		assert.True(t, items[i].Result.IsSuccess(), "item %d", i)
	}
	assert.Equal(t, Counts{Succeeded: 3, Failed: 2}, Count(items))
}

func TestExecuteBatchWaitsForEveryTask(t *testing.T) {
	var finished atomic.Int32
	work := func(ctx context.Context, id task.TaskID) (task.Outcome, error) {
		defer finished.Add(1)
		time.Sleep(time.Duration(id) * time.Millisecond)
		if id%2 == 1 {
			panic("odd task")
		}
		return task.Label(id), nil
	}
	e, l := newEngine(t, 3, work)

	items, err := e.ExecuteBatch(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, int32(8), finished.Load())
	assert.Equal(t, Counts{Succeeded: 4, Failed: 4}, Count(items))
	assert.Equal(t, 0, l.InFlight())
}

func TestExecuteBatchCancelled(t *testing.T) {
	e, l := newEngine(t, 1, task.Simulated(time.Hour, nil))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	items, err := e.ExecuteBatch(ctx, 4)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, Counts{Cancelled: 4}, Count(items))
	assert.Equal(t, 0, l.InFlight())
}

func TestExecuteBatchRejectsNegativeCount(t *testing.T) {
	e, _ := newEngine(t, 1, nil)
	_, err := e.ExecuteBatch(context.Background(), -1)
	assert.ErrorIs(t, err, faults.ErrInvalidConfiguration)
}

type stubRunner struct{}

func (stubRunner) Run(_ context.Context, id task.TaskID) result.Result[task.Outcome] {
	return result.Success(task.Label(id))
}

func TestNewAcceptsAnyRunner(t *testing.T) {
	e, err := New(stubRunner{}, nil)
	require.NoError(t, err)
	items, err := e.ExecuteBatch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, task.Outcome("Result-1"), items[1].Result.Value())

	_, err = New(nil, nil)
	assert.ErrorIs(t, err, faults.ErrInvalidConfiguration)
}
