package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// publisher is the part of *amqp.Channel the sender needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSender publishes emails as JSON messages to a durable topic exchange.
// The mailer service consumes them and talks to the email provider.
type AMQPSender struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    publisher
	exchange   string
	routingKey string
}

func NewAMQPSender(cfg AMQPConfig) (*AMQPSender, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPSender{
		conn:       conn,
		channel:    channel,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
	}, nil
}

func newAMQPSenderWithPublisher(p publisher, exchange, routingKey string) *AMQPSender {
	return &AMQPSender{channel: p, exchange: exchange, routingKey: routingKey}
}

func (s *AMQPSender) Send(ctx context.Context, email Email) Result {
	body, err := json.Marshal(email)
	if err != nil {
		return Result{Error: err.Error()}
	}
	id := uuid.NewString()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	s.mu.Lock()
	err = s.channel.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, msg)
	s.mu.Unlock()
	if err != nil {
		zap.L().Error("publish email failed", zap.String("to", email.To), zap.Error(err))
		return Result{Error: err.Error()}
	}
	return Result{Success: true, MessageID: id}
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.channel != nil {
		firstErr = s.channel.Close()
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
