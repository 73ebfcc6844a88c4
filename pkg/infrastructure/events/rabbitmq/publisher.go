// Package rabbitmq forwards engine events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/vsinha/costing/pkg/infrastructure/events"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Message is the JSON body of every published event
type Message struct {
	Type      string      `json:"type"`
	Stream    string      `json:"stream"`
	Version   int         `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher is an events.EventHandler that publishes each event with its type as routing key
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  channel
	exchange string
	logger   *zap.Logger
}

// Verify interface compliance
var _ events.EventHandler = (*Publisher)(nil)

// NewPublisher dials the broker and declares a durable topic exchange
func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	p := newPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger.Named("rabbitmq"),
	}
}

// CanHandle accepts every type; the store subscription decides what arrives
func (p *Publisher) CanHandle(eventType string) bool {
	return true
}

// Handle publishes the event as a persistent JSON message
func (p *Publisher) Handle(event events.Event) error {
	body, err := json.Marshal(Message{
		Type:      event.Type(),
		Stream:    event.StreamID(),
		Version:   event.Version(),
		Timestamp: event.Timestamp(),
		Data:      event.Data(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx,
		p.exchange,   // exchange
		event.Type(), // routing key
		false,        // mandatory
		false,        // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Type:         event.Type(),
			Timestamp:    event.Timestamp(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type(), err)
	}

	p.logger.Debug("event published",
		zap.String("type", event.Type()),
		zap.String("stream", event.StreamID()),
		zap.Int("version", event.Version()),
	)
	return nil
}

// Close closes the channel and the connection
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}
