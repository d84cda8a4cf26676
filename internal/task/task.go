// Package task implements a single simulated unit of work.
//
// A Unit holds a limiter slot for the whole of its work and reports a
// tagged result: success with the outcome label, failure, or cancellation.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"taskpipe/internal/faults"
	"taskpipe/internal/limiter"
	"taskpipe/internal/result"
)

const (
	DefaultDelay = 500 * time.Millisecond
	labelPrefix  = "Result-"
)

var ErrSimulatedFault = errors.New("simulated fault")

// TaskID is assigned by submission order, 0..N-1 within one run.
type TaskID int

// Outcome is the label produced by a successful unit.
type Outcome string

// WorkFunc performs the body of a unit once a slot has been acquired.
type WorkFunc func(ctx context.Context, id TaskID) (Outcome, error)

func Label(id TaskID) Outcome {
	return Outcome(labelPrefix + strconv.Itoa(int(id)))
}

// ParseLabel recovers the TaskID a label was derived from. It accepts the
// canonical label in any letter case.
func ParseLabel(o Outcome) (TaskID, error) {
	s := string(o)
	if len(s) <= len(labelPrefix) || !strings.EqualFold(s[:len(labelPrefix)], labelPrefix) {
		return 0, fmt.Errorf("not a task label: %q", s)
	}
	n, err := strconv.Atoi(s[len(labelPrefix):])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("not a task label: %q", s)
	}
	return TaskID(n), nil
}

// FaultSet lists the ids whose simulated work fails.
type FaultSet map[TaskID]struct{}

func NewFaultSet(ids ...int) FaultSet {
	set := make(FaultSet, len(ids))
	for _, id := range ids {
		set[TaskID(id)] = struct{}{}
	}
	return set
}

func (f FaultSet) Has(id TaskID) bool {
	_, ok := f[id]
	return ok
}

// Simulated suspends for delay without blocking other goroutines, then
// returns Label(id), or ErrSimulatedFault for ids in failing.
func Simulated(delay time.Duration, failing FaultSet) WorkFunc {
	return func(ctx context.Context, id TaskID) (Outcome, error) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
		if failing.Has(id) {
			return "", ErrSimulatedFault
		}
		return Label(id), nil
	}
}

type Unit struct {
	limiter *limiter.Limiter
	work    WorkFunc
	logger  *slog.Logger
}

func NewUnit(l *limiter.Limiter, work WorkFunc, logger *slog.Logger) (*Unit, error) {
	if l == nil {
		return nil, faults.Invalidf("task", "nil limiter")
	}
	if work == nil {
		work = Simulated(DefaultDelay, nil)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Unit{limiter: l, work: work, logger: logger}, nil
}

func (u *Unit) Limiter() *limiter.Limiter {
	return u.limiter
}

func (u *Unit) Run(ctx context.Context, id TaskID) result.Result[Outcome] {
	var out Outcome
	err := u.limiter.Do(ctx, func(ctx context.Context) error {
		u.logger.Info("task entering semaphore", "task_id", int(id))
		o, err := u.invoke(ctx, id)
		out = o
		return err
	})

	switch {
	case err == nil:
		return result.Success(out)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		u.logger.Debug("task cancelled", "task_id", int(id))
		return result.Cancel[Outcome](err)
	default:
		u.logger.Warn("task failed", "task_id", int(id), "error", err)
		return result.Fail[Outcome](faults.New(faults.ErrTaskFailure, fmt.Sprintf("task %d", id), err))
	}
}

func (u *Unit) invoke(ctx context.Context, id TaskID) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return u.work(ctx, id)
}
