package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskpipe/internal/engine"
	"taskpipe/internal/faults"
	"taskpipe/internal/record"
)

// Sink durably stores a finished record.
type Sink interface {
	Save(ctx context.Context, rec record.ExecutionRecord) error
}

// Ledger records run bookkeeping. It is optional.
type Ledger interface {
	BeginRun(command string, startedAt time.Time) (string, error)
	FinishRun(runID string, finishedAt time.Time, outcome string, processed, success, failed int) error
}

// Batch is the part of the engine the runner needs.
type Batch interface {
	ExecuteBatch(ctx context.Context, count int) ([]engine.Item, error)
}

type Options struct {
	TaskCount int
	Metadata  map[string]string
}

type Runner struct {
	opts   Options
	batch  Batch
	sink   Sink
	ledger Ledger
	logger *slog.Logger
}

func New(opts Options, batch Batch, sink Sink, ledger Ledger, logger *slog.Logger) (*Runner, error) {
	if batch == nil {
		return nil, faults.Invalidf("pipeline", "nil engine")
	}
	if sink == nil {
		return nil, faults.Invalidf("pipeline", "nil sink")
	}
	if opts.TaskCount < 0 {
		return nil, faults.Invalidf("pipeline", "task count must be >= 0, got %d", opts.TaskCount)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{opts: opts, batch: batch, sink: sink, ledger: ledger, logger: logger}, nil
}

// Ledger outcomes besides the record statuses.
const (
	OutcomeInterrupted = "interrupted"
	OutcomeError       = "error"
)

type runState struct {
	status record.Status
	logger *slog.Logger
}

func (s *runState) advance(to record.Status) {
	if !s.status.CanTransition(to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", s.status, to))
	}
	s.logger.Debug("run status", "from", s.status, "to", to)
	s.status = to
}

// Run executes one batch, builds its record and hands it to the sink once.
//
// A cancelled context yields ErrInterrupted and no record is persisted. The
// ledger row, if any, is closed with OutcomeInterrupted.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	res := Result{CreatedAt: started.UTC()}

	runID, err := r.beginRun(started)
	if err != nil {
		finalizeResult(&res, started)
		return res, err
	}
	res.RunID = runID
	ctx = record.WithRunID(ctx, runID)
	logger := r.logger.With("run_id", runID)
	st := &runState{status: record.StatusPending, logger: logger}
	outcome := OutcomeError

	defer func() {
		if r.ledger == nil {
			return
		}
		if err := r.ledger.FinishRun(runID, time.Now(), outcome, res.Processed, res.Succeeded, res.Failed); err != nil {
			logger.Warn("finish run", "error", err)
		}
	}()

	logger.Info("starting pipeline", "tasks", r.opts.TaskCount)
	st.advance(record.StatusRunning)

	items, err := r.batch.ExecuteBatch(ctx, r.opts.TaskCount)
	if err != nil {
		st.advance(record.StatusFailed)
		finalizeResult(&res, started)
		return res, err
	}

	counts := engine.Count(items)
	res.Processed = len(items)
	res.Succeeded = counts.Succeeded
	res.Failed = counts.Failed + counts.Cancelled

	if ctx.Err() != nil {
		st.advance(record.StatusFailed)
		outcome = OutcomeInterrupted
		finalizeResult(&res, started)
		return res, faults.New(faults.ErrInterrupted, "run pipeline", ctx.Err())
	}

	rec := BuildRecord(items, r.opts.Metadata)
	st.advance(rec.Status())

	if err := r.sink.Save(ctx, rec); err != nil {
		finalizeResult(&res, started)
		return res, faults.Persistence("save record", err)
	}

	outcome = string(rec.Status())
	res.Record = rec
	res.Success = rec.Status() == record.StatusCompleted
	finalizeResult(&res, started)
	logger.Info("pipeline finished",
		"status", rec.Status(),
		"items", len(rec.Items()),
		"duration_ms", res.DurationMS,
	)
	return res, nil
}

func (r *Runner) beginRun(started time.Time) (string, error) {
	if r.ledger == nil {
		return uuid.NewString(), nil
	}
	runID, err := r.ledger.BeginRun("run", started)
	if err != nil {
		return "", faults.Persistence("begin run", err)
	}
	return runID, nil
}

// RunFunc is the shape of a pipeline entry point.
type RunFunc func(ctx context.Context) (Result, error)

// Traced wraps fn with start and finish log lines.
func Traced(logger *slog.Logger, name string, fn RunFunc) RunFunc {
	return func(ctx context.Context) (Result, error) {
		started := time.Now()
		logger.Debug("calling", "func", name)
		res, err := fn(ctx)
		attrs := []any{
			"func", name,
			"duration_ms", time.Since(started).Milliseconds(),
		}
		if err != nil {
			attrs = append(attrs, "error", err, "kind", faults.Classify(err))
		}
		logger.Debug("returned", attrs...)
		return res, err
	}
}
