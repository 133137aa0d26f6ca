package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/threadline/settlement-backend/pkg/config"
	"github.com/threadline/settlement-backend/pkg/outbox/registry"
	"github.com/threadline/settlement-backend/pkg/rabbitmq"
)

const (
	transportPubSub   = "pubsub"
	transportRabbitMQ = "rabbitmq"
)

func normalizeTransport(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", transportPubSub:
		return transportPubSub, nil
	case transportRabbitMQ, "amqp":
		return transportRabbitMQ, nil
	default:
		return "", fmt.Errorf("unsupported outbox transport %q", raw)
	}
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// pubSubTransport publishes to one Pub/Sub topic per descriptor, caching the
// publisher handles so batching settings survive across rows.
type pubSubTransport struct {
	client     pubSubClient
	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
}

func newPubSubTransport(client pubSubClient) *pubSubTransport {
	return &pubSubTransport{client: client, publishers: map[string]*gcppubsub.Publisher{}}
}

func (t *pubSubTransport) Name() string { return transportPubSub }

func (t *pubSubTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx)
}

func (t *pubSubTransport) Publish(ctx context.Context, msg Message) error {
	pub := t.publisher(msg.Topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", msg.Topic))
	}
	result := pub.Publish(ctx, &gcppubsub.Message{Data: msg.Data, Attributes: msg.Attributes})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", msg.Topic))
	}
	_, err := result.Get(ctx)
	return err
}

func (t *pubSubTransport) publisher(topic string) *gcppubsub.Publisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pub, ok := t.publishers[topic]; ok {
		return pub
	}
	pub := t.client.Publisher(topic)
	if pub != nil {
		t.publishers[topic] = pub
	}
	return pub
}

// Stop flushes buffered messages on every cached publisher.
func (t *pubSubTransport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pub := range t.publishers {
		pub.Stop()
	}
}

type rabbitPublisher interface {
	Ping(context.Context) error
	Publish(ctx context.Context, msg rabbitmq.Message) error
}

// rabbitTransport routes every message through the settlement topic exchange.
type rabbitTransport struct {
	client rabbitPublisher
}

func newRabbitTransport(client rabbitPublisher) *rabbitTransport {
	return &rabbitTransport{client: client}
}

func (t *rabbitTransport) Name() string { return transportRabbitMQ }

func (t *rabbitTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx)
}

func (t *rabbitTransport) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return registry.NewNonRetryableError(errors.New("topic is required"))
	}
	headers := make(map[string]any, len(msg.Attributes))
	for k, v := range msg.Attributes {
		headers[k] = v
	}
	return t.client.Publish(ctx, rabbitmq.Message{
		RoutingKey: rabbitmq.RoutingKey(msg.Topic, msg.EventType),
		MessageID:  msg.EventID,
		Body:       msg.Data,
		Headers:    headers,
	})
}

// transportFor builds the transport named by cfg.Outbox.Transport. The
// returned closer releases the broker client.
func transportFor(ctx context.Context, cfg *config.Config, deps transportDeps) (Transport, func() error, error) {
	name, err := normalizeTransport(cfg.Outbox.Transport)
	if err != nil {
		return nil, nil, err
	}
	switch name {
	case transportRabbitMQ:
		client, err := deps.dialRabbit(ctx, cfg.RabbitMQ)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap rabbitmq: %w", err)
		}
		return newRabbitTransport(client), client.Close, nil
	default:
		client, err := deps.dialPubSub(ctx, cfg.GCP, cfg.PubSub)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap pubsub: %w", err)
		}
		transport := newPubSubTransport(client)
		return transport, func() error {
			transport.Stop()
			return client.Close()
		}, nil
	}
}

type closingRabbit interface {
	rabbitPublisher
	Close() error
}

type closingPubSub interface {
	pubSubClient
	Close() error
}

type transportDeps struct {
	dialRabbit func(context.Context, config.RabbitMQConfig) (closingRabbit, error)
	dialPubSub func(context.Context, config.GCPConfig, config.PubSubConfig) (closingPubSub, error)
}
