// Package app assembles the runtime: config, log, store, evaluator and the
// RPC dispatcher, plus the shutdown routine that flushes pending writes.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/kingrea/datastation/internal/config"
	"github.com/kingrea/datastation/internal/eval"
	"github.com/kingrea/datastation/internal/language"
	"github.com/kingrea/datastation/internal/logging"
	"github.com/kingrea/datastation/internal/program"
	"github.com/kingrea/datastation/internal/rpc"
	"github.com/kingrea/datastation/internal/secret"
	"github.com/kingrea/datastation/internal/shutdown"
	"github.com/kingrea/datastation/internal/store"
)

// Runtime is everything a command needs after startup.
type Runtime struct {
	Config     *config.Config
	Logger     *logging.Logger
	Store      *store.Store
	Evaluator  *eval.Evaluator
	Dispatcher *rpc.Dispatcher
	Shutdown   *shutdown.Manager
}

// Option customizes Open.
type Option func(*options)

type options struct {
	mirror io.Writer
}

// WithLogMirror copies log lines to w in addition to the log file.
func WithLogMirror(w io.Writer) Option {
	return func(o *options) {
		o.mirror = w
	}
}

// Open initializes root and wires the runtime. Callers must run
// rt.Shutdown.Run (or Exit) so buffered project writes reach disk.
func Open(root string, opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if err := config.InitDataDir(root); err != nil {
		return nil, fmt.Errorf("app: init data dir: %w", err)
	}
	cfg, err := config.NewConfig(root)
	if err != nil {
		return nil, err
	}

	var logOpts []logging.Option
	if o.mirror != nil {
		logOpts = append(logOpts, logging.WithMirror(o.mirror))
	}
	logger, err := logging.New(cfg.Root, logOpts...)
	if err != nil {
		return nil, err
	}

	box, err := secret.LoadOrCreate(cfg.SecretKeyPath())
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	writer := store.NewWriter(cfg.Settings.SyncPeriod, store.WithWriterLogger(logger))
	st := store.New(cfg.Root, writer, box,
		store.WithLogger(logger),
		store.WithRetention(cfg.Settings.Results.Retention),
	)
	executor := program.NewExecutor(language.Default(), program.Settings{
		StdoutMaxSize: cfg.Settings.StdoutMaxSize,
		Timeout:       cfg.Settings.ProgramTimeout,
	}, program.WithPaths(cfg), program.WithLogger(logger))
	evaluator := eval.New(st, executor, eval.WithLogger(logger))

	dispatcher := rpc.NewDispatcher(rpc.WithLogger(logger))
	dispatcher.Register(st.Handlers()...)
	dispatcher.Register(evaluator.Handlers()...)

	manager := shutdown.New(shutdown.WithLogger(logger))
	manager.Register("log", func(context.Context) error { return logger.Close() })
	manager.Register("store", func(context.Context) error { return writer.Close() })

	logger.Info("runtime opened at %s", cfg.Root)
	return &Runtime{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Evaluator:  evaluator,
		Dispatcher: dispatcher,
		Shutdown:   manager,
	}, nil
}

// Server builds the RPC HTTP server and registers its shutdown.
func (rt *Runtime) Server() *rpc.Server {
	srv := rpc.NewServer(rpc.SettingsFromConfig(rt.Config), rt.Dispatcher, rpc.WithServerLogger(rt.Logger))
	rt.Shutdown.Register("rpc server", srv.Shutdown)
	return srv
}
