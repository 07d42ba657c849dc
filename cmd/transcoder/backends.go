package main

import (
	"context"
	"log/slog"

	"transcoder/internal/blobstore"
	"transcoder/internal/broker"
	"transcoder/internal/config"
	"transcoder/internal/progress"
)

type closingPublisher interface {
	broker.Publisher
	Close() error
}

// Backend constructors; tests swap these for in-process fakes.
var (
	openPublisher = func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (closingPublisher, error) {
		return broker.Open(ctx, cfg, "transcoder-cli", logger)
	}
	openProgressStore = progress.Open
	openBlobStore     = func(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
		return blobstore.NewS3(ctx, cfg)
	}
)
