package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxelops/internal/config"
	"github.com/fyrsmithlabs/voxelops/internal/execution"
	vhttp "github.com/fyrsmithlabs/voxelops/internal/http"
	"github.com/fyrsmithlabs/voxelops/internal/logging"
	"github.com/fyrsmithlabs/voxelops/internal/metrics"
	"github.com/fyrsmithlabs/voxelops/internal/orchestrator"
	"github.com/fyrsmithlabs/voxelops/internal/procedures"
	"github.com/fyrsmithlabs/voxelops/internal/secrets"
	"github.com/fyrsmithlabs/voxelops/internal/telemetry"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

// runtime bundles the process-wide collaborators of one command.
type runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	metrics  *metrics.Metrics
	registry *validation.Registry
	tracker  *vhttp.Tracker
	server   *vhttp.Server
	serveErr chan error
}

// setupRuntime loads configuration and initializes logging and telemetry.
// metricsAddr, when non-empty, enables the status server on that address.
func setupRuntime(ctx context.Context, metricsAddr string) (*runtime, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = metricsAddr
	}
	return newRuntime(ctx, cfg)
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if health := tel.Health(); health.Degraded {
		logger.Warn(ctx, "telemetry degraded, spans will not be exported", zap.Error(health.Error))
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		registry: procedures.DefaultRegistry(),
		tracker:  vhttp.NewTracker(0),
	}

	if cfg.Metrics.Enabled {
		rt.metrics = metrics.NewMetrics()
		rt.server, err = vhttp.NewServer(rt.registry, rt.tracker, logger.Named("http"), &vhttp.Config{Addr: cfg.Metrics.Addr})
		if err != nil {
			rt.close(ctx)
			return nil, err
		}
		rt.serveErr = make(chan error, 1)
		go func() { rt.serveErr <- rt.server.Start() }()
	}
	return rt, nil
}

// commandExecutor builds the local process executor, scrubbing captured
// output unless secrets.enabled is false.
func (rt *runtime) commandExecutor(ctx context.Context) (*execution.CommandExecutor, error) {
	opts := []execution.CommandOption{execution.WithCommandLogger(rt.logger.Named("execution"))}
	if !rt.cfg.Secrets.Enabled {
		rt.logger.Warn(ctx, "secret redaction disabled, tool output is stored verbatim")
		return execution.NewCommandExecutor(opts...), nil
	}

	paths := append([]string(nil), rt.cfg.Secrets.Allowlists...)
	if p, err := config.DefaultAllowlistPath(); err == nil {
		paths = append(paths, p)
	}
	allowlist, err := secrets.LoadAllowlists(paths...)
	if err != nil {
		return nil, fmt.Errorf("load secrets allowlist: %w", err)
	}
	scrubber, err := secrets.New(allowlist)
	if err != nil {
		return nil, err
	}
	opts = append(opts, execution.WithRedactor(scrubber))
	return execution.NewCommandExecutor(opts...), nil
}

// orchestrator builds an orchestrator over the runtime's collaborators.
func (rt *runtime) orchestrator(executor execution.Executor, progress orchestrator.ProgressCallback) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithLogger(rt.logger.Named("orchestrator")),
		orchestrator.WithTracer(rt.tel.Tracer("voxelops")),
		orchestrator.WithDefaultLogDir(rt.cfg.Audit.LogDir),
		orchestrator.WithProgress(func(p orchestrator.Progress) {
			rt.tracker.Progress(p)
			if progress != nil {
				progress(p)
			}
		}),
	}
	if rt.metrics != nil {
		opts = append(opts, orchestrator.WithMetrics(rt.metrics))
	}
	return orchestrator.New(rt.registry, executor, opts...)
}

// close stops the status server, flushes spans and syncs the logger.
func (rt *runtime) close(ctx context.Context) {
	if rt.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.Metrics.ShutdownTimeout)
		if err := rt.server.Shutdown(shutdownCtx); err != nil {
			rt.logger.Warn(ctx, "status server shutdown failed", zap.Error(err))
		}
		cancel()
		select {
		case err := <-rt.serveErr:
			if err != nil {
				rt.logger.Warn(ctx, "status server stopped with error", zap.Error(err))
			}
		case <-time.After(rt.cfg.Metrics.ShutdownTimeout):
		}
	}
	if err := rt.tel.Shutdown(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = rt.logger.Sync()
}
