package broker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"transcoder/internal/logging"
	"transcoder/internal/metrics"
	"transcoder/internal/services"
	"transcoder/internal/stage"
	"transcoder/internal/stageexec"
)

// ErrDeliveriesClosed is returned by StartConsuming when the broker closes the
// delivery stream (channel or connection loss).
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Outcome records what the executor did with a delivery.
type Outcome int

const (
	// OutcomeAcked means the handler succeeded and the delivery was acknowledged.
	OutcomeAcked Outcome = iota
	// OutcomeRetried means the delivery was rejected into the retry queue.
	OutcomeRetried
	// OutcomeDropped means the delivery was acknowledged without success.
	OutcomeDropped
	// OutcomeAbandoned means shutdown interrupted the handler and the delivery
	// was left unacknowledged for the broker to redeliver.
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcked:
		return "acked"
	case OutcomeRetried:
		return "retried"
	case OutcomeDropped:
		return "dropped"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Consumer is the subset of *amqp.Channel used to receive deliveries.
type Consumer interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

// Executor consumes one queue and hands each delivery to a stage handler.
type Executor struct {
	ch            Consumer
	queue         string
	handler       stage.Handler
	dropThreshold int
	logger        *slog.Logger
}

// NewExecutor builds an executor for queue. A delivery whose handler fails is
// rejected into the retry queue until it has already been rejected
// dropThreshold times; the next failure drops it.
func NewExecutor(ch Consumer, queue string, handler stage.Handler, dropThreshold int, logger *slog.Logger) *Executor {
	if dropThreshold <= 0 {
		dropThreshold = 1
	}
	return &Executor{
		ch:            ch,
		queue:         queue,
		handler:       handler,
		dropThreshold: dropThreshold,
		logger:        logging.NewComponentLogger(logger, "consumer").With(logging.String(logging.FieldQueue, queue)),
	}
}

// StartConsuming processes deliveries one at a time until ctx is cancelled
// (returns nil) or the broker closes the stream (returns ErrDeliveriesClosed).
func (e *Executor) StartConsuming(ctx context.Context) error {
	tag := e.handler.Name() + "-" + uuid.NewString()
	deliveries, err := e.ch.Consume(e.queue, tag, false, false, false, false, nil)
	if err != nil {
		return services.Wrap(services.ErrTransient, e.handler.Name(), "consume", e.queue, err)
	}
	e.logger.Info("consumer started",
		logging.String(logging.FieldEventType, "consumer_start"),
		logging.String("consumer_tag", tag),
		logging.Int("drop_threshold", e.dropThreshold),
	)

	for {
		select {
		case <-ctx.Done():
			if err := e.ch.Cancel(tag, false); err != nil {
				e.logger.Debug("consumer cancel failed", logging.Error(err))
			}
			e.logger.Info("consumer stopped", logging.String(logging.FieldEventType, "consumer_stop"))
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			if _, err := e.Process(ctx, d); err != nil {
				return err
			}
		}
	}
}

// Process runs the handler for one delivery and settles it exactly once.
// The returned error reports a failed ack or reject, which means the channel
// is no longer usable.
func (e *Executor) Process(ctx context.Context, d amqp.Delivery) (Outcome, error) {
	metrics.MessagesConsumed.WithLabelValues(e.queue).Inc()

	prior := PriorRejections(d.Headers, e.queue)
	attempt := prior + 1
	logger := e.logger.With(
		logging.String(logging.FieldRoutingKey, d.RoutingKey),
		logging.String("message_id", d.MessageId),
		logging.Int("attempt", attempt),
	)
	logger.Debug("message received", logging.String(logging.FieldEventType, "consume_start"))

	handlerErr := stageexec.Run(ctx, stageexec.Options{
		Logger:    logger,
		Handler:   e.handler,
		Body:      d.Body,
		MessageID: d.MessageId,
		Attempt:   attempt,
	})

	if handlerErr == nil {
		if err := d.Ack(false); err != nil {
			return OutcomeAcked, services.Wrap(services.ErrTransient, e.handler.Name(), "ack", e.queue, err)
		}
		metrics.MessagesAcked.WithLabelValues(e.queue).Inc()
		logger.Info("message processed", logging.String(logging.FieldEventType, "consume_success"))
		return OutcomeAcked, nil
	}

	if ctx.Err() != nil {
		logging.WarnWithContext(logger, "shutdown interrupted message", "message_abandoned",
			logging.String(logging.FieldImpact, "broker redelivers the message after the channel closes"),
			logging.String(logging.FieldErrorHint, "none; the next consumer picks it up"),
			logging.Error(handlerErr),
		)
		return OutcomeAbandoned, nil
	}

	if !services.IsRetryable(handlerErr) {
		return e.drop(d, logger, metrics.DropNonRetryable, handlerErr)
	}
	if prior >= e.dropThreshold {
		return e.drop(d, logger, metrics.DropExhausted, handlerErr)
	}

	if err := d.Reject(false); err != nil {
		return OutcomeRetried, services.Wrap(services.ErrTransient, e.handler.Name(), "reject", e.queue, err)
	}
	metrics.MessagesRetried.WithLabelValues(e.queue).Inc()
	logging.WarnWithContext(logger, "message rejected for retry", "message_retry",
		logging.Int("prior_rejections", prior),
		logging.Int("drop_threshold", e.dropThreshold),
		logging.String(logging.FieldImpact, "message is redelivered after the retry delay"),
		logging.String(logging.FieldErrorHint, "inspect the stage failure above"),
		logging.Error(handlerErr),
	)
	return OutcomeRetried, nil
}

func (e *Executor) drop(d amqp.Delivery, logger *slog.Logger, reason string, cause error) (Outcome, error) {
	if err := d.Ack(false); err != nil {
		return OutcomeDropped, services.Wrap(services.ErrTransient, e.handler.Name(), "ack", e.queue, err)
	}
	metrics.MessagesDropped.WithLabelValues(e.queue, reason).Inc()
	hint := "message failed permanently; fix the input and re-publish"
	if reason == metrics.DropExhausted {
		hint = "retries exhausted; check the stage's dependencies and re-publish"
	}
	logging.ErrorWithContext(logger, "message dropped", "message_dropped",
		logging.String("drop_reason", reason),
		logging.String("error_kind", services.Kind(cause)),
		logging.String(logging.FieldErrorHint, hint),
		logging.Error(cause),
	)
	return OutcomeDropped, nil
}

// PriorRejections returns how many times a delivery has already been
// rejected from queue according to its x-death header. Entries for queue
// are preferred; when none match, the largest rejected count is used.
func PriorRejections(headers amqp.Table, queue string) int {
	raw, ok := headers["x-death"]
	if !ok {
		return 0
	}
	entries, ok := raw.([]any)
	if !ok {
		return 0
	}
	matched, fallback := 0, 0
	for _, entry := range entries {
		table, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		if reason, _ := table["reason"].(string); reason != "rejected" {
			continue
		}
		count := toInt(table["count"])
		if q, _ := table["queue"].(string); q == queue {
			matched = max(matched, count)
			continue
		}
		fallback = max(fallback, count)
	}
	if matched > 0 {
		return matched
	}
	return fallback
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case int16:
		return int(n)
	case uint32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
