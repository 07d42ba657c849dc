package broker

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"transcoder/internal/config"
)

func TestDialStopsRetryingWhenContextEnds(t *testing.T) {
	orig := dialConfig
	t.Cleanup(func() { dialConfig = orig })

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	var gotName any
	dialConfig = func(url string, cfg amqp.Config) (*amqp.Connection, error) {
		attempts++
		gotName = cfg.Properties["connection_name"]
		cancel()
		return nil, errors.New("connection refused")
	}

	cfg := config.Default()
	_, err := Dial(ctx, &cfg, "encoder", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("got %d attempts want 1", attempts)
	}
	if gotName != "transcoder-encoder" {
		t.Fatalf("unexpected connection name %v", gotName)
	}
}

func TestDialRequiresConfig(t *testing.T) {
	if _, err := Dial(context.Background(), nil, "", nil); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestOpenChannelRejectsNilConnection(t *testing.T) {
	if _, err := OpenChannel(nil, 1); err == nil {
		t.Fatal("expected error for nil connection")
	}
}
