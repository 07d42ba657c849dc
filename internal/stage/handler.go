package stage

import (
	"context"
	"log/slog"
)

// Handler processes the body of one delivery for a pipeline stage. Returned
// errors are classified with services.IsRetryable by the consumer: retryable
// errors are rejected into the retry queue, all others are dropped.
type Handler interface {
	Name() string
	Handle(ctx context.Context, body []byte) error
}

// HealthChecker is implemented by handlers that can report readiness before
// the consumer starts.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}

// LoggerAware handlers receive the stage-scoped logger before each message.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// Func adapts a function to Handler.
type Func struct {
	StageName string
	Fn        func(ctx context.Context, body []byte) error
}

func (f Func) Name() string { return f.StageName }

func (f Func) Handle(ctx context.Context, body []byte) error { return f.Fn(ctx, body) }
