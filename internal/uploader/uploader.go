// Package uploader copies a finished job directory into the blob store and
// announces the upload.
//
// Policy: unknown extensions and subdirectories are skipped with a warning.
// Any failed upload fails the message; the directory is kept and nothing is
// published, so the retry uploads every file again. Only after every
// recognised file is stored is the directory removed (best effort) and the
// artifacts uploaded event published. A redelivery that finds the directory
// gone but the job's objects in the bucket only publishes the event again.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"transcoder/internal/blobstore"
	"transcoder/internal/broker"
	"transcoder/internal/config"
	"transcoder/internal/contracts"
	"transcoder/internal/logging"
	"transcoder/internal/metrics"
	"transcoder/internal/services"
	"transcoder/internal/stage"
)

// Uploader handles video encoded messages.
type Uploader struct {
	sharedDir   string
	concurrency int
	blobs       blobstore.Store
	publisher   broker.Publisher
	logger      *slog.Logger
}

// artifact is one recognised file in a job directory.
type artifact struct {
	path        string
	key         string
	contentType string
}

// New returns an uploader writing into blobs.
func New(cfg *config.Config, blobs blobstore.Store, publisher broker.Publisher, logger *slog.Logger) *Uploader {
	concurrency := cfg.Upload.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	u := &Uploader{
		sharedDir:   cfg.Paths.SharedDir,
		concurrency: concurrency,
		blobs:       blobs,
		publisher:   publisher,
	}
	u.SetLogger(logger)
	return u
}

func (u *Uploader) Name() string { return contracts.StageUploader }

func (u *Uploader) SetLogger(logger *slog.Logger) {
	u.logger = logging.NewComponentLogger(logger, contracts.StageUploader)
}

func (u *Uploader) Handle(ctx context.Context, body []byte) error {
	msg, err := stage.Decode[contracts.VideoEncoded](u.Name(), body)
	if err != nil {
		return err
	}
	return u.UploadArtifacts(ctx, msg)
}

// UploadArtifacts uploads every recognised file of one job directory.
func (u *Uploader) UploadArtifacts(ctx context.Context, msg contracts.VideoEncoded) error {
	ctx = services.WithVideoID(ctx, msg.VideoID)
	ctx = services.WithEncodingID(ctx, string(msg.EncodingID))
	logger := logging.WithContext(ctx, u.logger)

	dir := filepath.Clean(msg.ArtifactsDirectory)
	if !u.withinSharedDir(dir) {
		return services.Wrap(services.ErrValidation, u.Name(), "resolve job directory",
			fmt.Sprintf("%s is outside the shared directory", dir), nil)
	}

	artifacts, err := u.collect(dir, msg, logger)
	if errors.Is(err, services.ErrNotFound) {
		return u.republishStored(ctx, msg, err, logger)
	}
	if err != nil {
		return err
	}

	uploaded, err := u.uploadAll(ctx, artifacts)
	if err != nil {
		logging.WarnWithContext(logger, "artifact upload failed", "upload_failed",
			logging.Int("uploaded", uploaded),
			logging.Int("total", len(artifacts)),
			logging.String(logging.FieldImpact, "job directory kept for retry"),
			logging.String(logging.FieldErrorHint, "check blob store connectivity and credentials"),
			logging.Error(err),
		)
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		logging.WarnWithContext(logger, "failed to remove job directory", "cleanup_failed",
			logging.String("path", dir),
			logging.String(logging.FieldImpact, "local disk usage grows until cleaned manually"),
			logging.Error(err),
		)
	}

	if err := u.announce(ctx, msg); err != nil {
		return err
	}
	logger.Info("artifacts uploaded", logging.Int("files", len(artifacts)))
	return nil
}

func (u *Uploader) announce(ctx context.Context, msg contracts.VideoEncoded) error {
	event := contracts.VideoArtifactsUploaded{VideoID: msg.VideoID, EncodingID: msg.EncodingID}
	return u.publisher.Publish(ctx, contracts.RoutingKeyVideoArtifactsUploaded, event)
}

// republishStored handles a job directory that no longer exists. When the
// bucket already holds the job's objects, an earlier attempt uploaded them and
// removed the directory before its publish failed, so only the event is sent.
// Otherwise missing is returned unchanged.
func (u *Uploader) republishStored(ctx context.Context, msg contracts.VideoEncoded, missing error, logger *slog.Logger) error {
	prefix := blobstore.ArtifactPrefix(msg.VideoID, msg.EncodingID)
	stored, err := u.blobs.List(ctx, prefix)
	if err != nil {
		return services.Wrap(services.ErrTransient, u.Name(), "list stored artifacts", prefix, err)
	}
	if len(stored) == 0 {
		return missing
	}
	if err := u.announce(ctx, msg); err != nil {
		return err
	}
	logger.Info("job directory already uploaded, republished event",
		logging.Int("objects", len(stored)),
		logging.String("prefix", prefix),
	)
	return nil
}

func (u *Uploader) withinSharedDir(dir string) bool {
	if u.sharedDir == "" {
		return true
	}
	rel, err := filepath.Rel(filepath.Clean(u.sharedDir), dir)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func (u *Uploader) collect(dir string, msg contracts.VideoEncoded, logger *slog.Logger) ([]artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, u.Name(), "list job directory", dir, err)
		}
		return nil, services.Wrap(services.ErrTransient, u.Name(), "list job directory", dir, err)
	}

	artifacts := make([]artifact, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			u.skip(logger, name, "subdirectory")
			continue
		}
		container, ok := contracts.ContainerFromFileName(name)
		if !ok {
			u.skip(logger, name, "unrecognized extension")
			continue
		}
		contentType, _ := contracts.ContentType(container)
		artifacts = append(artifacts, artifact{
			path:        filepath.Join(dir, name),
			key:         blobstore.ArtifactKey(msg.VideoID, msg.EncodingID, name),
			contentType: contentType,
		})
	}
	if len(artifacts) == 0 {
		return nil, services.Wrap(services.ErrValidation, u.Name(), "collect artifacts",
			fmt.Sprintf("no uploadable files in %s", dir), nil)
	}
	return artifacts, nil
}

func (u *Uploader) skip(logger *slog.Logger, name, reason string) {
	metrics.ArtifactsSkipped.Inc()
	logging.WarnWithContext(logger, "skipping job directory entry", "artifact_skipped",
		logging.String("file", name),
		logging.String("reason", reason),
		logging.String(logging.FieldImpact, "entry is not uploaded"),
	)
}

// uploadAll uploads in parallel and returns how many succeeded.
func (u *Uploader) uploadAll(ctx context.Context, artifacts []artifact) (int, error) {
	var uploaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for _, a := range artifacts {
		g.Go(func() error {
			if err := u.uploadOne(gctx, a); err != nil {
				return err
			}
			uploaded.Add(1)
			metrics.ArtifactsUploaded.Inc()
			return nil
		})
	}
	err := g.Wait()
	return int(uploaded.Load()), err
}

func (u *Uploader) uploadOne(ctx context.Context, a artifact) error {
	file, err := os.Open(a.path)
	if err != nil {
		return services.Wrap(services.ErrTransient, u.Name(), "open artifact", a.path, err)
	}
	defer file.Close()
	// Configuration markers on err still win over ErrTransient in
	// services.IsRetryable.
	if _, err := u.blobs.Upload(ctx, a.key, file, a.contentType); err != nil {
		return services.Wrap(services.ErrTransient, u.Name(), "upload artifact", a.key, err)
	}
	return nil
}
