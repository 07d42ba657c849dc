package stageexec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"transcoder/internal/logging"
	"transcoder/internal/services"
	"transcoder/internal/stage"
)

// Options controls one stage invocation.
type Options struct {
	Logger  *slog.Logger
	Handler stage.Handler
	Body    []byte
	// MessageID is used as the correlation id when set.
	MessageID string
	Attempt   int
}

// Run executes the handler for one delivery body with stage-scoped logging.
// The handler error is returned unchanged so the caller can classify it.
func Run(ctx context.Context, opts Options) error {
	if opts.Handler == nil {
		return fmt.Errorf("stage handler unavailable")
	}
	name := opts.Handler.Name()

	stageCtx := services.WithStage(ctx, name)
	stageCtx = services.WithRequestID(stageCtx, opts.MessageID)
	stageLogger := logging.WithContext(stageCtx, opts.Logger)
	if aware, ok := opts.Handler.(stage.LoggerAware); ok {
		aware.SetLogger(stageLogger)
	}

	stageLogger.Debug(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("attempt", opts.Attempt),
		logging.Int("body_bytes", len(opts.Body)),
	)

	started := time.Now()
	if err := opts.Handler.Handle(stageCtx, opts.Body); err != nil {
		stageLogger.Error(
			"stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("error_kind", services.Kind(err)),
			logging.Bool("retryable", services.IsRetryable(err)),
			logging.Int("attempt", opts.Attempt),
			logging.Duration("elapsed", time.Since(started)),
			logging.Error(err),
		)
		return err
	}

	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// Label renders a stage or kind name for humans ("full_video" -> "Full Video").
func Label(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	fields := strings.Fields(strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name))
	return cases.Title(language.English).String(strings.Join(fields, " "))
}
