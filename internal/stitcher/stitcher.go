// Package stitcher rebuilds a video's HLS master playlist whenever a
// full-video rendition finishes uploading.
package stitcher

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"transcoder/internal/blobstore"
	"transcoder/internal/contracts"
	"transcoder/internal/logging"
	"transcoder/internal/metrics"
	"transcoder/internal/services"
	"transcoder/internal/stage"
)

// Stitcher handles video artifacts uploaded messages.
type Stitcher struct {
	blobs   blobstore.Store
	tempDir string
	logger  *slog.Logger
}

// New returns a stitcher. tempDir holds the manifest between render and
// upload; empty uses the system default.
func New(blobs blobstore.Store, tempDir string, logger *slog.Logger) *Stitcher {
	s := &Stitcher{blobs: blobs, tempDir: tempDir}
	s.SetLogger(logger)
	return s
}

func (s *Stitcher) Name() string { return contracts.StageStitcher }

func (s *Stitcher) SetLogger(logger *slog.Logger) {
	s.logger = logging.NewComponentLogger(logger, contracts.StageStitcher)
}

func (s *Stitcher) Handle(ctx context.Context, body []byte) error {
	msg, err := stage.Decode[contracts.VideoArtifactsUploaded](s.Name(), body)
	if err != nil {
		return err
	}
	return s.RebuildMasterManifest(ctx, msg.VideoID, msg.EncodingID)
}

// RebuildMasterManifest recomputes and uploads the master manifest. Preview
// and thumbnail uploads are ignored.
func (s *Stitcher) RebuildMasterManifest(ctx context.Context, videoID string, encodingID contracts.EncodingID) error {
	ctx = services.WithVideoID(ctx, videoID)
	ctx = services.WithEncodingID(ctx, string(encodingID))
	logger := logging.WithContext(ctx, s.logger)

	kind, err := contracts.Classify(encodingID)
	if err != nil {
		logger.Debug("skipping master manifest for unrecognized encoding", logging.Error(err))
		return nil
	}
	switch kind {
	case contracts.KindFullVideo:
	case contracts.KindPreview, contracts.KindThumbnails:
		logger.Debug("skipping master manifest", logging.String("kind", kind.String()))
		return nil
	default:
		return services.Wrap(services.ErrConfiguration, s.Name(), "classify upload", kind.String(), nil)
	}

	blobs, err := s.blobs.List(ctx, blobstore.VideoPrefix(videoID))
	if err != nil {
		return err
	}
	manifest, err := BuildMasterManifest(videoID, blobs)
	if errors.Is(err, ErrNoRenditions) {
		logging.WarnWithContext(logger, "no rendition manifests found", "stitch_skipped",
			logging.Int("objects", len(blobs)),
			logging.String(logging.FieldImpact, "master manifest not written"),
			logging.String(logging.FieldErrorHint, "check uploader logs for this video"),
		)
		return nil
	}
	if err != nil {
		return err
	}

	location, err := s.upload(ctx, manifest, logger)
	if err != nil {
		return err
	}
	metrics.MasterManifestsWritten.Inc()
	s.removeStale(ctx, manifest.Key, blobs, logger)

	logger.Info("master manifest written",
		logging.String("location", location),
		logging.Int("renditions", len(manifest.Renditions)),
	)
	return nil
}

// upload stages the manifest in a temporary file and streams it to the blob
// store. Removing the temporary file is best effort.
func (s *Stitcher) upload(ctx context.Context, manifest Manifest, logger *slog.Logger) (string, error) {
	file, err := os.CreateTemp(s.tempDir, "master-*.m3u8")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, s.Name(), "create temp manifest", "", err)
	}
	defer func() {
		_ = file.Close()
		if err := os.Remove(file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(logger, "failed to remove temp manifest", "cleanup_failed",
				logging.String("path", file.Name()),
				logging.Error(err),
			)
		}
	}()

	if _, err := file.WriteString(manifest.Content); err != nil {
		return "", services.Wrap(services.ErrTransient, s.Name(), "write temp manifest", file.Name(), err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return "", services.Wrap(services.ErrTransient, s.Name(), "rewind temp manifest", file.Name(), err)
	}
	location, err := s.blobs.Upload(ctx, manifest.Key, file, contracts.ManifestContentType)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, s.Name(), "upload master manifest", manifest.Key, err)
	}
	return location, nil
}

// removeStale deletes master manifests built from an older rendition set.
func (s *Stitcher) removeStale(ctx context.Context, current string, blobs []blobstore.Blob, logger *slog.Logger) {
	for _, b := range blobs {
		if b.Key == current || !IsMasterManifest(b) {
			continue
		}
		if err := s.blobs.Delete(ctx, b.Key); err != nil {
			logging.WarnWithContext(logger, "failed to delete stale master manifest", "cleanup_failed",
				logging.String("key", b.Key),
				logging.Error(err),
			)
			continue
		}
		logger.Debug("deleted stale master manifest", logging.String("key", b.Key))
	}
}
