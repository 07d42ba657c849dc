package testsupport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

// Published is one captured message.
type Published struct {
	RoutingKey string
	Body       []byte
}

// Publisher records everything published through it. When Fail returns an
// error for a message, that message is not recorded.
type Publisher struct {
	mu       sync.Mutex
	messages []Published
	Fail     func(n int, routingKey string) error
	attempts int
}

func (p *Publisher) Publish(_ context.Context, routingKey string, msg any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.Fail != nil {
		if err := p.Fail(p.attempts, routingKey); err != nil {
			return err
		}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.messages = append(p.messages, Published{RoutingKey: routingKey, Body: body})
	return nil
}

// Messages returns a copy of the recorded messages in publish order.
func (p *Publisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.messages...)
}

// DecodeAll decodes every recorded body published under routingKey into T.
func DecodeAll[T any](t testing.TB, p *Publisher, routingKey string) []T {
	t.Helper()
	var out []T
	for _, msg := range p.Messages() {
		if msg.RoutingKey != routingKey {
			continue
		}
		var value T
		if err := json.Unmarshal(msg.Body, &value); err != nil {
			t.Fatalf("decode %s body: %v", routingKey, err)
		}
		out = append(out, value)
	}
	return out
}
