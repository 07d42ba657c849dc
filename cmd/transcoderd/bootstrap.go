package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"transcoder/internal/blobstore"
	"transcoder/internal/broker"
	"transcoder/internal/config"
	"transcoder/internal/contracts"
	"transcoder/internal/downloader"
	"transcoder/internal/encoding"
	"transcoder/internal/logging"
	"transcoder/internal/metrics"
	"transcoder/internal/orchestrator"
	"transcoder/internal/preflight"
	"transcoder/internal/progress"
	"transcoder/internal/stage"
	"transcoder/internal/stitcher"
	"transcoder/internal/uploader"
)

// stageDeps holds the backends a stage handler is built from. Fields a stage
// does not need stay nil.
type stageDeps struct {
	cfg       *config.Config
	publisher broker.Publisher
	progress  progress.Store
	blobs     blobstore.Store
	logger    *slog.Logger
}

type requirements struct {
	progress bool
	blobs    bool
	encoder  bool
}

func stageRequirements(name string) requirements {
	switch name {
	case contracts.StageEncoder:
		return requirements{progress: true, encoder: true}
	case contracts.StageUploader, contracts.StageStitcher:
		return requirements{blobs: true}
	default:
		return requirements{}
	}
}

// buildHandler returns the handler consuming name's queue.
func buildHandler(name string, deps stageDeps) (stage.Handler, error) {
	switch name {
	case contracts.StageDownloader:
		return downloader.New(deps.cfg, nil, deps.publisher, deps.logger), nil
	case contracts.StageOrchestrator:
		return orchestrator.New(deps.cfg.Encoding.Profiles, deps.publisher, deps.logger), nil
	case contracts.StageEncoder:
		return encoding.NewWorker(deps.cfg, nil, deps.progress, deps.publisher, deps.logger), nil
	case contracts.StageUploader:
		return uploader.New(deps.cfg, deps.blobs, deps.publisher, deps.logger), nil
	case contracts.StageStitcher:
		return stitcher.New(deps.blobs, "", deps.logger), nil
	default:
		return nil, fmt.Errorf("unknown stage %q", name)
	}
}

// stagePreflight checks the shared directories, plus the encoder binaries
// for the encoder stage.
func stagePreflight(cfg *config.Config, name string) []preflight.Result {
	results := []preflight.Result{
		preflight.CheckDirectoryAccess("Shared directory", cfg.Paths.SharedDir),
		preflight.CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if !stageRequirements(name).encoder {
		return results
	}
	for _, status := range preflight.CheckSystemDeps(cfg) {
		if status.Available || status.Optional {
			continue
		}
		results = append(results, preflight.Result{Name: status.Name, Detail: status.Detail})
	}
	return results
}

func runStage(ctx context.Context, cfg *config.Config, name string) error {
	binding, ok := contracts.BindingForStage(name)
	if !ok {
		return fmt.Errorf("unknown stage %q", name)
	}

	logger, err := logging.NewFromConfig(cfg, name)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldStage, name))

	if failed := preflight.Failed(stagePreflight(cfg, name)); len(failed) > 0 {
		details := make([]string, 0, len(failed))
		for _, r := range failed {
			details = append(details, r.Name+": "+r.Detail)
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(details, "; "))
	}

	st, err := broker.Open(ctx, cfg, name, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	provisioner := broker.NewProvisioner(st.Channel(), cfg.AMQP.Exchange, cfg.RetryTTL(), logger)
	if err := provisioner.EnsureExchanges(); err != nil {
		return err
	}
	if err := provisioner.EnsureQueue(binding.Queue, binding.Pattern); err != nil {
		return err
	}

	deps := stageDeps{cfg: cfg, publisher: st, logger: logger}
	req := stageRequirements(name)
	if req.progress {
		store, err := progress.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeQuietly(store, logger, "progress store")
		deps.progress = store
	}
	if req.blobs {
		blobs, err := blobstore.NewS3(ctx, cfg)
		if err != nil {
			return err
		}
		if err := blobs.Ping(ctx); err != nil {
			return err
		}
		deps.blobs = blobs
	}

	handler, err := buildHandler(name, deps)
	if err != nil {
		return err
	}
	if checker, ok := handler.(stage.HealthChecker); ok {
		if health := checker.HealthCheck(ctx); !health.Ready {
			return fmt.Errorf("%s not ready: %s", name, health.Detail)
		}
	}

	executor := broker.NewExecutor(st.Channel(), binding.Queue, handler, cfg.AMQP.RedeliveryDropThreshold, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Metrics.Bind, logger)
	})
	g.Go(func() error {
		return executor.StartConsuming(gctx)
	})

	logger.Info("stage ready",
		logging.String(logging.FieldQueue, binding.Queue),
		logging.String(logging.FieldRoutingKey, binding.Pattern),
	)
	err = g.Wait()
	logger.Info("stage shutting down")
	return err
}

func closeQuietly(c io.Closer, logger *slog.Logger, what string) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", logging.String("resource", what), logging.Error(err))
	}
}
