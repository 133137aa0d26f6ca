package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/threadline/settlement-backend/pkg/config"
	"github.com/threadline/settlement-backend/pkg/logger"
)

var (
	errURLRequired      = errors.New("rabbitmq url is required")
	errExchangeRequired = errors.New("rabbitmq exchange is required")
	errNotConnected     = errors.New("rabbitmq client not initialized")
)

// Message is one persistent publish onto the topic exchange.
type Message struct {
	RoutingKey  string
	MessageID   string
	ContentType string
	Body        []byte
	Headers     map[string]any
}

// Client wraps a single AMQP connection and a publisher-confirm channel.
type Client struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	mu       sync.Mutex
	logg     *logger.Logger
}

// New dials the broker and declares the durable topic exchange used for settlement events.
func New(ctx context.Context, cfg config.RabbitMQConfig, logg *logger.Logger) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errURLRequired
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		return nil, errExchangeRequired
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "exchange", exchange), "rabbitmq client initialized")
	}

	return &Client{conn: conn, channel: ch, exchange: exchange, logg: logg}, nil
}

// Publish sends msg and waits for the broker confirm.
func (c *Client) Publish(ctx context.Context, msg Message) error {
	if c == nil || c.channel == nil {
		return errNotConnected
	}
	if strings.TrimSpace(msg.RoutingKey) == "" {
		return errors.New("routing key is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	confirm, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		c.exchange,
		msg.RoutingKey,
		false, // mandatory
		false, // immediate
		buildPublishing(msg, time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.RoutingKey, err)
	}
	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm %s: %w", msg.RoutingKey, err)
	}
	if !ok {
		return fmt.Errorf("broker nacked %s", msg.RoutingKey)
	}
	return nil
}

func buildPublishing(msg Message, now time.Time) amqp.Publishing {
	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	var headers amqp.Table
	if len(msg.Headers) > 0 {
		headers = amqp.Table{}
		for k, v := range msg.Headers {
			headers[k] = v
		}
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		ContentType:  contentType,
		MessageId:    msg.MessageID,
		Headers:      headers,
		Body:         msg.Body,
	}
}

// RoutingKey converts a topic name like "tl-settlement-events" plus an event type
// into a dotted routing key.
func RoutingKey(topic, eventType string) string {
	parts := []string{}
	for _, p := range []string{topic, eventType} {
		p = strings.TrimSpace(strings.ReplaceAll(p, "-", "."))
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Ping reports whether the underlying connection is still open.
func (c *Client) Ping(context.Context) error {
	if c == nil || c.conn == nil {
		return errNotConnected
	}
	if c.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
