package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"taskpipe/internal/config"
	"taskpipe/internal/engine"
	"taskpipe/internal/faults"
	"taskpipe/internal/limiter"
	"taskpipe/internal/pipeline"
	"taskpipe/internal/sink"
	"taskpipe/internal/state"
	"taskpipe/internal/task"
)

const postgresPingTimeout = 5 * time.Second

// app is built once at startup and passed explicitly to whatever needs it.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	limiter *limiter.Limiter
	runner  *pipeline.Runner
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	l, err := limiter.New(cfg.ConcurrencyLimit)
	if err != nil {
		return nil, err
	}
	a.limiter = l

	work := task.Simulated(cfg.TaskDelay, task.NewFaultSet(cfg.FailTaskIDs...))
	unit, err := task.NewUnit(l, work, logger)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(unit, logger)
	if err != nil {
		return nil, err
	}

	s, ledger, err := a.buildSinks(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	runner, err := pipeline.New(pipeline.Options{
		TaskCount: cfg.TaskCount,
		Metadata:  cfg.Metadata(),
	}, eng, s, ledger, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.runner = runner
	return a, nil
}

// buildSinks opens every configured sink. The first SQL store also serves
// as the run ledger.
func (a *app) buildSinks(ctx context.Context) (pipeline.Sink, pipeline.Ledger, error) {
	var (
		members []sink.Named
		ledger  pipeline.Ledger
	)
	for _, name := range a.cfg.Sinks {
		var s sink.Saver
		switch name {
		case config.SinkJSON:
			s = sink.NewJSONFile(a.cfg.OutputPath, a.logger)
		case config.SinkYAML:
			s = sink.NewYAMLFile(a.cfg.YAMLOutputPath, a.logger)
		case config.SinkSQLite, config.SinkPostgres:
			store, err := openStore(ctx, a.cfg, name)
			if err != nil {
				return nil, nil, faults.Persistence("open "+name+" store", err)
			}
			a.closers = append(a.closers, store.Close)
			if ledger == nil {
				ledger = store
			}
			s = store
		case config.SinkHTTP:
			s = sink.NewHTTP(a.cfg.HTTP.URL, a.cfg.HTTP.AuthHeader, a.cfg.HTTP.Token, a.cfg.HTTP.VerifyTLS, a.logger)
		case config.SinkS3:
			objCfg := objectStoreConfig(a.cfg)
			client, err := sink.NewMinIOClient(objCfg)
			if err != nil {
				return nil, nil, faults.Persistence("s3 client", err)
			}
			if err := sink.EnsureBucket(ctx, client, objCfg); err != nil {
				return nil, nil, faults.Persistence("s3 bucket", err)
			}
			s = sink.NewObjectStore(client, objCfg, a.logger)
		default:
			return nil, nil, faults.Invalidf("sinks", "unknown sink %q", name)
		}
		members = append(members, sink.Named{Name: name, Sink: s})
	}

	if len(members) == 1 {
		return members[0].Sink, ledger, nil
	}
	return sink.NewMulti(members...), ledger, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.Config, name string) (*state.Store, error) {
	if name == config.SinkPostgres {
		return state.OpenPostgres(ctx, cfg.DatabaseURL, postgresPingTimeout)
	}
	return state.Open(cfg.StateDBPath)
}

func objectStoreConfig(cfg config.Config) sink.ObjectStoreConfig {
	return sink.ObjectStoreConfig{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		Prefix:    cfg.S3.Prefix,
		UseSSL:    cfg.S3.UseSSL,
	}
}
