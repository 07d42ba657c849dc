package encoding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"transcoder/internal/broker"
	"transcoder/internal/config"
	"transcoder/internal/contracts"
	"transcoder/internal/logging"
	"transcoder/internal/metrics"
	"transcoder/internal/progress"
	"transcoder/internal/services"
	"transcoder/internal/stage"
)

// Worker handles video encoding requested messages.
type Worker struct {
	cfg       *config.Config
	engine    Engine
	store     progress.Store
	publisher broker.Publisher
	logger    *slog.Logger
}

// NewWorker wires a worker. engine defaults to ffmpeg from the config.
func NewWorker(cfg *config.Config, engine Engine, store progress.Store, publisher broker.Publisher, logger *slog.Logger) *Worker {
	if engine == nil {
		engine = NewFFmpeg(cfg.Encoding.FFmpegBinary)
	}
	w := &Worker{cfg: cfg, engine: engine, store: store, publisher: publisher}
	w.SetLogger(logger)
	return w
}

func (w *Worker) Name() string { return contracts.StageEncoder }

// SetLogger swaps the worker's logger for the duration of one message.
func (w *Worker) SetLogger(logger *slog.Logger) {
	w.logger = logging.NewComponentLogger(logger, contracts.StageEncoder)
}

// HealthCheck reports whether the progress store is reachable.
func (w *Worker) HealthCheck(ctx context.Context) stage.Health {
	if err := w.store.Ping(ctx); err != nil {
		return stage.Unhealthy(w.Name(), err.Error())
	}
	return stage.Healthy(w.Name())
}

func (w *Worker) Handle(ctx context.Context, body []byte) error {
	msg, err := stage.Decode[contracts.VideoEncodingRequested](w.Name(), body)
	if err != nil {
		return err
	}
	return w.Encode(ctx, msg)
}

// JobDir returns the output directory for one rendition of a video.
func JobDir(sharedDir, videoID string, id contracts.EncodingID) string {
	return filepath.Join(sharedDir, videoID, string(id))
}

// Encode runs one job to a terminal state. Unknown encoding ids and
// renditions without a bitrate fail before anything is written.
func (w *Worker) Encode(ctx context.Context, msg contracts.VideoEncodingRequested) error {
	spec := msg.Encoding
	ctx = services.WithVideoID(ctx, msg.VideoID)
	ctx = services.WithEncodingID(ctx, string(spec.ID))
	logger := logging.WithContext(ctx, w.logger)

	kind, err := contracts.Classify(spec.ID)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, w.Name(), "classify job", "", err)
	}

	dir := JobDir(w.cfg.Paths.SharedDir, msg.VideoID, spec.ID)
	job := Job{
		Source:         msg.Location,
		Spec:           spec,
		Dir:            dir,
		SegmentSeconds: w.cfg.Encoding.HLSSegmentSeconds,
	}
	if _, err := plan(kind, job); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, w.Name(), "create job directory", dir, err)
	}
	unlock, err := lockJob(dir)
	if err != nil {
		return err
	}
	defer unlock()

	reporter := progress.NewReporter(w.store, msg.VideoID, spec.ID, w.cfg.Progress.Buffer, logger)
	if err := reporter.Start(ctx); err != nil {
		return services.Wrap(services.ErrTransient, w.Name(), "initialize progress", "", err)
	}
	switch reporter.Terminal() {
	case progress.Completed:
		// Redelivered after success: the artifacts are already on their way,
		// so only the event is repeated.
		// os.Remove only succeeds on the empty directory recreated above when
		// the uploader had already cleaned up.
		_ = os.Remove(dir)
		logger.Info("job already complete, republishing", logging.String("job_dir", dir))
		return w.publishEncoded(ctx, msg, dir)
	case progress.Failed:
		logging.WarnWithContext(logger, "retrying job recorded as failed", "encode_retry_after_failure",
			logging.String(logging.FieldImpact, "progress entry stays failed for this attempt"),
			logging.String(logging.FieldErrorHint, "check the uploaded artifacts instead of progress"),
		)
	}

	logger.Info("encoding started",
		logging.String("kind", kind.String()),
		logging.String("source", msg.Location),
		logging.String("job_dir", dir),
	)

	metrics.ActiveEncodes.Inc()
	started := time.Now()
	runErr := w.run(ctx, kind, job, reporter, logger)
	metrics.ActiveEncodes.Dec()
	if runErr != nil {
		reporter.Fail(ctx)
		return runErr
	}
	metrics.EncodeDuration.WithLabelValues(kind.String()).Observe(time.Since(started).Seconds())

	if err := reporter.Complete(ctx); err != nil {
		return services.Wrap(services.ErrTransient, w.Name(), "record completion", "", err)
	}

	if err := w.publishEncoded(ctx, msg, dir); err != nil {
		return err
	}
	logger.Info("encoding complete",
		logging.String("kind", kind.String()),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (w *Worker) publishEncoded(ctx context.Context, msg contracts.VideoEncodingRequested, dir string) error {
	event := contracts.VideoEncoded{
		VideoID:            msg.VideoID,
		ArtifactsDirectory: dir,
		EncodingID:         msg.Encoding.ID,
	}
	return w.publisher.Publish(ctx, contracts.RoutingKeyVideoEncoded, event)
}

func (w *Worker) run(ctx context.Context, kind contracts.Kind, job Job, reporter *progress.Reporter, logger *slog.Logger) error {
	probe, err := probeMedia(ctx, w.cfg.Encoding.FFprobeBinary, job.Source)
	if err != nil {
		logging.WarnWithContext(logger, "duration probe failed", "probe_failed",
			logging.String(logging.FieldImpact, "progress stays at 0% until the encode finishes"),
			logging.String(logging.FieldErrorHint, "check that ffprobe can read the source"),
			logging.Error(err),
		)
	} else {
		job.Duration = probe.DurationSeconds()
	}

	passes, err := plan(kind, job)
	if err != nil {
		return err
	}

	if kind == contracts.KindThumbnails {
		frames := FramesDir(job.Dir)
		if err := os.RemoveAll(frames); err != nil {
			return services.Wrap(services.ErrTransient, w.Name(), "reset frames directory", frames, err)
		}
		if err := os.MkdirAll(frames, 0o755); err != nil {
			return services.Wrap(services.ErrTransient, w.Name(), "create frames directory", frames, err)
		}
		defer func() {
			if err := os.RemoveAll(frames); err != nil {
				logging.WarnWithContext(logger, "failed to remove thumbnail frames", "cleanup_failed",
					logging.String("path", frames),
					logging.Error(err),
				)
			}
		}()
	}

	done := 0.0
	for i, p := range passes {
		base, weight := done, p.weight
		logger.Debug("running ffmpeg",
			logging.Int("pass", i+1),
			logging.Int("passes", len(passes)),
			logging.Any("args", p.inv.Args()),
		)
		if err := w.engine.Run(ctx, p.inv, func(ratio float64) {
			reporter.Report(base + ratio*weight)
		}); err != nil {
			return err
		}
		done += weight
		reporter.Report(done)
	}
	return nil
}

// lockJob takes an exclusive lock beside the job directory so two consumers
// never write the same rendition at once. The lock file stays in place after
// unlock; staging.CleanStale removes it with the job directory.
func lockJob(dir string) (func(), error) {
	path := dir + ".lock"
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, contracts.StageEncoder, "lock job", path, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrTransient, contracts.StageEncoder, "lock job",
			fmt.Sprintf("another encoder holds %s", path), nil)
	}
	return func() { _ = lock.Unlock() }, nil
}
