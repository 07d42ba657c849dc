package broker

import (
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"transcoder/internal/contracts"
	"transcoder/internal/logging"
	"transcoder/internal/services"
)

// Queue argument keys understood by RabbitMQ.
const (
	argDeadLetterExchange = "x-dead-letter-exchange"
	argMessageTTL         = "x-message-ttl"
)

// Declarer is the subset of *amqp.Channel used to declare topology.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Provisioner declares the main and retry exchanges plus per-stage queue
// pairs. Every declaration is durable and uses fixed arguments, so repeated
// calls against an existing topology are accepted by the broker unchanged.
type Provisioner struct {
	ch            Declarer
	exchange      string
	retryExchange string
	retryTTL      time.Duration
	logger        *slog.Logger
}

// NewProvisioner builds a provisioner for exchange. The retry exchange is
// always named "<exchange>.retry".
func NewProvisioner(ch Declarer, exchange string, retryTTL time.Duration, logger *slog.Logger) *Provisioner {
	if exchange == "" {
		exchange = contracts.ExchangeName
	}
	return &Provisioner{
		ch:            ch,
		exchange:      exchange,
		retryExchange: exchange + ".retry",
		retryTTL:      retryTTL,
		logger:        logging.NewComponentLogger(logger, "provisioner"),
	}
}

// EnsureExchanges declares the main and retry topic exchanges.
func (p *Provisioner) EnsureExchanges() error {
	for _, name := range []string{p.exchange, p.retryExchange} {
		if err := p.ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return services.Wrap(services.ErrTransient, "provisioner", "declare exchange", name, err)
		}
	}
	return nil
}

// EnsureQueue declares queue bound to pattern on the main exchange and its
// companion retry queue bound to the same pattern on the retry exchange.
func (p *Provisioner) EnsureQueue(queue, pattern string) error {
	if queue == "" || pattern == "" {
		return services.Wrap(services.ErrConfiguration, "provisioner", "declare queue",
			"queue name and binding pattern are required", nil)
	}
	if p.retryTTL <= 0 {
		return services.Wrap(services.ErrConfiguration, "provisioner", "declare queue",
			fmt.Sprintf("retry ttl must be positive (got %s)", p.retryTTL), nil)
	}
	if err := p.EnsureExchanges(); err != nil {
		return err
	}

	primaryArgs := amqp.Table{argDeadLetterExchange: p.retryExchange}
	if _, err := p.ch.QueueDeclare(queue, true, false, false, false, primaryArgs); err != nil {
		return services.Wrap(services.ErrTransient, "provisioner", "declare queue", queue, err)
	}
	if err := p.ch.QueueBind(queue, pattern, p.exchange, false, nil); err != nil {
		return services.Wrap(services.ErrTransient, "provisioner", "bind queue", queue, err)
	}

	retryQueue := contracts.RetryQueueName(queue)
	retryArgs := amqp.Table{
		argDeadLetterExchange: p.exchange,
		argMessageTTL:         p.retryTTL.Milliseconds(),
	}
	if _, err := p.ch.QueueDeclare(retryQueue, true, false, false, false, retryArgs); err != nil {
		return services.Wrap(services.ErrTransient, "provisioner", "declare queue", retryQueue, err)
	}
	if err := p.ch.QueueBind(retryQueue, pattern, p.retryExchange, false, nil); err != nil {
		return services.Wrap(services.ErrTransient, "provisioner", "bind queue", retryQueue, err)
	}

	p.logger.Debug("queue provisioned",
		logging.String(logging.FieldQueue, queue),
		logging.String("retry_queue", retryQueue),
		logging.String("pattern", pattern),
		logging.Duration("retry_ttl", p.retryTTL),
	)
	return nil
}

// EnsureTopology provisions every binding.
func (p *Provisioner) EnsureTopology(bindings []contracts.Binding) error {
	for _, b := range bindings {
		if err := p.EnsureQueue(b.Queue, b.Pattern); err != nil {
			return err
		}
	}
	p.logger.Info("topology provisioned",
		logging.String("exchange", p.exchange),
		logging.String("retry_exchange", p.retryExchange),
		logging.Int("queues", len(bindings)),
	)
	return nil
}
