package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"transcoder/internal/config"
	"transcoder/internal/logging"
	"transcoder/internal/services"
)

const (
	dialAttempts   = 5
	dialBackoff    = time.Second
	dialBackoffMax = 10 * time.Second
)

// dialConfig is replaced in tests.
var dialConfig = amqp.DialConfig

// Dial connects to the broker named in cfg, retrying with backoff while the
// broker is unreachable.
func Dial(ctx context.Context, cfg *config.Config, name string, logger *slog.Logger) (*amqp.Connection, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "broker", "dial", "configuration is required", nil)
	}
	logger = logging.NewComponentLogger(logger, "broker")
	connectionName := cfg.AMQP.ConnectionName
	if name != "" {
		connectionName += "-" + name
	}
	amqpCfg := amqp.Config{
		Heartbeat:  cfg.Heartbeat(),
		Locale:     "en_US",
		Properties: amqp.NewConnectionProperties(),
	}
	amqpCfg.Properties.SetClientConnectionName(connectionName)

	backoff := dialBackoff
	var lastErr error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err := dialConfig(cfg.AMQP.URL, amqpCfg)
		if err == nil {
			logger.Debug("broker connection established",
				logging.String("connection_name", connectionName),
				logging.Int("attempt", attempt),
			)
			return conn, nil
		}
		lastErr = err
		if attempt == dialAttempts {
			break
		}
		logging.WarnWithContext(logger, "broker dial failed; retrying", "broker_dial_retry",
			logging.Int("attempt", attempt),
			logging.Duration("backoff", backoff),
			logging.String(logging.FieldErrorHint, "check amqp.url and that the broker is running"),
			logging.String(logging.FieldImpact, "stage start is delayed"),
			logging.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, dialBackoffMax)
	}
	return nil, services.Wrap(services.ErrTransient, "broker", "dial",
		fmt.Sprintf("broker unreachable after %d attempts", dialAttempts), lastErr)
}

// OpenChannel opens a channel limited to prefetch unacknowledged deliveries.
func OpenChannel(conn *amqp.Connection, prefetch int) (*amqp.Channel, error) {
	if conn == nil || conn.IsClosed() {
		return nil, services.Wrap(services.ErrTransient, "broker", "open channel", "connection is closed", nil)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "broker", "open channel", "", err)
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, services.Wrap(services.ErrTransient, "broker", "set prefetch", "", err)
	}
	return ch, nil
}
