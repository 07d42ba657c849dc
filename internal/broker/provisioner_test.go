package broker

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"transcoder/internal/contracts"
)

// fakeBroker mimics RabbitMQ's redeclaration rules: identical redeclarations
// succeed, conflicting ones fail with PRECONDITION_FAILED.
type fakeBroker struct {
	exchanges map[string]string
	queues    map[string]amqp.Table
	bindings  map[string]struct{}
	calls     int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		exchanges: map[string]string{},
		queues:    map[string]amqp.Table{},
		bindings:  map[string]struct{}{},
	}
}

func (f *fakeBroker) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.calls++
	if existing, ok := f.exchanges[name]; ok && existing != kind {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg 'type'"}
	}
	f.exchanges[name] = kind
	return nil
}

func (f *fakeBroker) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.calls++
	if existing, ok := f.queues[name]; ok && !reflect.DeepEqual(existing, args) {
		return amqp.Queue{}, &amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg"}
	}
	f.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeBroker) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.calls++
	if _, ok := f.exchanges[exchange]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "no exchange " + exchange}
	}
	f.bindings[fmt.Sprintf("%s|%s|%s", exchange, key, name)] = struct{}{}
	return nil
}

func TestEnsureQueueDeclaresRetryPair(t *testing.T) {
	fake := newFakeBroker()
	p := NewProvisioner(fake, contracts.ExchangeName, 10*time.Second, nil)

	if err := p.EnsureQueue("encoding-requests", contracts.RoutingKeyVideoEncodingRequested); err != nil {
		t.Fatalf("EnsureQueue returned error: %v", err)
	}

	if fake.exchanges["transcoder"] != "topic" || fake.exchanges["transcoder.retry"] != "topic" {
		t.Fatalf("unexpected exchanges: %v", fake.exchanges)
	}
	primary := fake.queues["encoding-requests"]
	if primary["x-dead-letter-exchange"] != "transcoder.retry" {
		t.Fatalf("primary queue must dead-letter into the retry exchange, got %v", primary)
	}
	retry := fake.queues["encoding-requests.retry"]
	if retry["x-dead-letter-exchange"] != "transcoder" {
		t.Fatalf("retry queue must dead-letter back into the main exchange, got %v", retry)
	}
	if retry["x-message-ttl"] != int64(10000) {
		t.Fatalf("unexpected retry ttl: %#v", retry["x-message-ttl"])
	}
	for _, key := range []string{
		"transcoder|video.encoding.requested|encoding-requests",
		"transcoder.retry|video.encoding.requested|encoding-requests.retry",
	} {
		if _, ok := fake.bindings[key]; !ok {
			t.Fatalf("missing binding %s (have %v)", key, fake.bindings)
		}
	}
}

func TestEnsureTopologyIsIdempotent(t *testing.T) {
	fake := newFakeBroker()
	p := NewProvisioner(fake, contracts.ExchangeName, 5*time.Second, nil)

	if err := p.EnsureTopology(contracts.Bindings()); err != nil {
		t.Fatalf("first EnsureTopology returned error: %v", err)
	}
	queues, bindings := len(fake.queues), len(fake.bindings)

	if err := p.EnsureTopology(contracts.Bindings()); err != nil {
		t.Fatalf("second EnsureTopology returned error: %v", err)
	}
	if len(fake.queues) != queues || len(fake.bindings) != bindings {
		t.Fatalf("reprovisioning changed topology: queues %d->%d bindings %d->%d",
			queues, len(fake.queues), bindings, len(fake.bindings))
	}
	if want := 2 * len(contracts.Bindings()); queues != want {
		t.Fatalf("got %d queues want %d", queues, want)
	}
}

func TestEnsureQueueRejectsBadInput(t *testing.T) {
	p := NewProvisioner(newFakeBroker(), "", time.Second, nil)
	if err := p.EnsureQueue("", "video.encoded"); err == nil {
		t.Fatal("expected error for empty queue name")
	}
	zeroTTL := NewProvisioner(newFakeBroker(), "", 0, nil)
	if err := zeroTTL.EnsureQueue("encoded-videos", "video.encoded"); err == nil {
		t.Fatal("expected error for zero retry ttl")
	}
}

func TestEnsureQueueSurfacesConflicts(t *testing.T) {
	fake := newFakeBroker()
	fake.queues["encoded-videos"] = amqp.Table{"x-dead-letter-exchange": "elsewhere"}
	p := NewProvisioner(fake, contracts.ExchangeName, time.Second, nil)
	if err := p.EnsureQueue("encoded-videos", "video.encoded"); err == nil {
		t.Fatal("expected precondition failure for conflicting queue arguments")
	}
}
