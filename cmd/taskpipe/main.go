package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"taskpipe/internal/config"
	"taskpipe/internal/faults"
	"taskpipe/internal/logging"
	"taskpipe/internal/pipeline"
	"taskpipe/internal/record"
	"taskpipe/internal/result"
	"taskpipe/internal/runtimecheck"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) (code int) {
	logger := logging.New(stderr, "info", "text")
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic", "type", fmt.Sprintf("%T", r), "message", fmt.Sprint(r))
			code = 1
		}
	}()

	cmd := "run"
	if len(args) > 0 {
		cmd = args[0]
	}
	switch cmd {
	case "help", "-h", "--help":
		printUsage(stderr)
		return 0
	case "run", "status":
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", cmd)
		printUsage(stderr)
		return 1
	}

	if err := runtimecheck.Current(); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	logger = logging.New(stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd == "status" {
		return runStatus(ctx, cfg, stdout, stderr)
	}
	return runPipeline(ctx, cfg, logger, stdout)
}

func runPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer) int {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return report(logger, stdout, err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", "error", err)
		}
	}()

	traced := pipeline.Traced(logger, "run_pipeline", a.runner.Run)
	res, err := traced(ctx)
	logger.Debug("limiter", "peak", a.limiter.Peak(), "cap", a.limiter.Cap())
	if err != nil {
		return report(logger, stdout, err)
	}

	return result.Match(outcome(res),
		func(res pipeline.Result) int {
			b, err := record.Marshal(res.Record, 2)
			if err != nil {
				return report(logger, stdout, err)
			}
			fmt.Fprintf(stdout, "Payload: %s\n", b)
			return 0
		},
		func(err error) int {
			logger.Warn("pipeline finished with failures", "failed", res.Failed, "succeeded", res.Succeeded)
			fmt.Fprintln(stdout, "Error")
			return res.ExitCode()
		},
		nil,
	)
}

func outcome(res pipeline.Result) result.Result[pipeline.Result] {
	if res.Success {
		return result.Success(res)
	}
	return result.Fail[pipeline.Result](faults.New(faults.ErrTaskFailure, "run pipeline",
		fmt.Errorf("%d of %d tasks failed", res.Failed, res.Processed)))
}

// report maps a top-level error to an exit code. Interrupts are silent.
func report(logger *slog.Logger, stdout io.Writer, err error) int {
	if faults.IsInterrupt(err) {
		return 0
	}
	logger.Error("pipeline failed", "kind", faults.Classify(err), "type", fmt.Sprintf("%T", err), "error", err)
	fmt.Fprintln(stdout, "Error")
	return 1
}

func runStatus(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) int {
	name := config.SinkSQLite
	if cfg.HasSink(config.SinkPostgres) {
		name = config.SinkPostgres
	}
	if name == config.SinkSQLite {
		if _, err := os.Stat(cfg.StateDBPath); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(stdout, "no runs recorded")
			return 0
		}
	}
	store, err := openStore(ctx, cfg, name)
	if err != nil {
		fmt.Fprintf(stderr, "open state db: %v\n", err)
		return 1
	}
	defer store.Close()

	summary, err := store.Summary(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "status: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)
	return 0
}

func printUsage(w io.Writer) {
	msg := `taskpipe: bounded concurrent task pipeline

Usage:
  taskpipe           run the pipeline once
  taskpipe status    summarize stored runs and records

Exit codes:
  0  all tasks succeeded, or the run was interrupted
  1  invalid configuration, unsupported runtime, storage failure,
     unexpected fault, or every task failed
  2  some tasks failed; the partial record is still stored
`
	_, _ = fmt.Fprint(w, msg)
}
