package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"transcoder/internal/config"
	"transcoder/internal/logging"
	"transcoder/internal/services"
)

// Publisher emits pipeline events. Publish returns once the broker has
// confirmed the message.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg any) error
}

type confirmPublisher interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// Stage is the broker handle owned by one stage process: a connection, a
// channel in confirm mode with prefetch applied, and the exchange it
// publishes to.
type Stage struct {
	name     string
	exchange string
	conn     *amqp.Connection
	ch       *amqp.Channel
	pub      confirmPublisher
	logger   *slog.Logger

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Open dials the broker and prepares a channel for stage name.
func Open(ctx context.Context, cfg *config.Config, name string, logger *slog.Logger) (*Stage, error) {
	conn, err := Dial(ctx, cfg, name, logger)
	if err != nil {
		return nil, err
	}
	ch, err := OpenChannel(conn, cfg.AMQP.Prefetch)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, services.Wrap(services.ErrTransient, "broker", "enable confirms", "", err)
	}
	s := newStage(name, cfg.AMQP.Exchange, ch, logger)
	s.conn = conn
	s.ch = ch
	return s, nil
}

func newStage(name, exchange string, pub confirmPublisher, logger *slog.Logger) *Stage {
	return &Stage{
		name:     name,
		exchange: exchange,
		pub:      pub,
		logger:   logging.NewComponentLogger(logger, "publisher"),
	}
}

// Name returns the stage the handle was opened for.
func (s *Stage) Name() string { return s.name }

// Channel exposes the underlying channel for provisioning and consuming.
func (s *Stage) Channel() *amqp.Channel { return s.ch }

// NotifyClose reports when the connection goes away. The returned channel is
// nil for handles without a live connection.
func (s *Stage) NotifyClose() <-chan *amqp.Error {
	if s.conn == nil {
		return nil
	}
	return s.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Publish marshals msg to JSON and publishes it persistently on the stage
// exchange, waiting for the broker confirm.
func (s *Stage) Publish(ctx context.Context, routingKey string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return services.Wrap(services.ErrValidation, s.name, "encode message", routingKey, err)
	}
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		AppId:        s.name,
		Body:         body,
	}

	s.mu.Lock()
	dc, err := s.pub.PublishWithDeferredConfirmWithContext(ctx, s.exchange, routingKey, false, false, publishing)
	s.mu.Unlock()
	if err != nil {
		return services.Wrap(services.ErrTransient, s.name, "publish", routingKey, err)
	}
	if dc != nil {
		acked, err := dc.WaitContext(ctx)
		if err != nil {
			return services.Wrap(services.ErrTransient, s.name, "await confirm", routingKey, err)
		}
		if !acked {
			return services.Wrap(services.ErrTransient, s.name, "await confirm",
				fmt.Sprintf("broker nacked %s", routingKey), nil)
		}
	}

	s.logger.Debug("message published",
		logging.String(logging.FieldRoutingKey, routingKey),
		logging.String("message_id", publishing.MessageId),
		logging.Int("body_bytes", len(body)),
	)
	return nil
}

// Close tears down the channel and connection. It is safe to call more than
// once.
func (s *Stage) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.ch != nil && !s.ch.IsClosed() {
			if err := s.ch.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close channel: %w", err))
			}
		}
		if s.conn != nil && !s.conn.IsClosed() {
			if err := s.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close connection: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
