// Package engine runs a batch of task units concurrently under a shared
// limiter and reports every outcome in submission order.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"taskpipe/internal/faults"
	"taskpipe/internal/result"
	"taskpipe/internal/task"
)

// Item pairs a task id with its outcome.
type Item struct {
	ID     task.TaskID
	Result result.Result[task.Outcome]
}

// Runner is the single-task contract the engine fans out over.
type Runner interface {
	Run(ctx context.Context, id task.TaskID) result.Result[task.Outcome]
}

type Engine struct {
	unit   Runner
	logger *slog.Logger
}

func New(unit Runner, logger *slog.Logger) (*Engine, error) {
	if unit == nil {
		return nil, faults.Invalidf("engine", "nil task unit")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{unit: unit, logger: logger}, nil
}

// ExecuteBatch runs ids 0..count-1 and waits for all of them.
//
// items[i].ID == i for every i. A failed task does not stop its siblings;
// failures and cancellations are reported per item.
func (e *Engine) ExecuteBatch(ctx context.Context, count int) ([]Item, error) {
	if count < 0 {
		return nil, faults.Invalidf("engine", "task count must be >= 0, got %d", count)
	}
	started := time.Now()
	e.logger.Info("batch started", "count", count)

	items := make([]Item, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		id := task.TaskID(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// each goroutine owns exactly one slot of items
			items[id] = Item{ID: id, Result: e.unit.Run(ctx, id)}
		}()
	}
	wg.Wait()

	c := Count(items)
	e.logger.Info("batch finished",
		"count", count,
		"succeeded", c.Succeeded,
		"failed", c.Failed,
		"cancelled", c.Cancelled,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return items, nil
}

type Counts struct {
	Succeeded int
	Failed    int
	Cancelled int
}

func Count(items []Item) Counts {
	var c Counts
	for _, it := range items {
		switch {
		case it.Result.IsSuccess():
			c.Succeeded++
		case it.Result.IsCancel():
			c.Cancelled++
		default:
			c.Failed++
		}
	}
	return c
}
