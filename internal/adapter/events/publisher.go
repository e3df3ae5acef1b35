package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	exchangeName = "storefront.events"
	exchangeType = "topic"

	EventTypeOrderPlaced = "order.placed"

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

var errNotAcked = errors.New("event not acknowledged")

// Event is the envelope published for every domain event.
type Event struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion string          `json:"event_version"`
	Timestamp    string          `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
}

type OrderPlacedPayload struct {
	OrderID   int64     `json:"order_id"`
	UserID    int64     `json:"user_id"`
	ItemID    int64     `json:"item_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// AMQPPublisher publishes committed orders to a RabbitMQ topic exchange with
// publisher confirms.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.Logger
}

func NewAMQPPublisher(url string, log *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchangeName,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	log.Info("Connected to RabbitMQ", zap.String("exchange", exchangeName))
	return &AMQPPublisher{conn: conn, channel: channel, log: log}, nil
}

func (p *AMQPPublisher) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	event, err := NewOrderPlacedEvent(order)
	if err != nil {
		return err
	}
	return p.publishWithRetry(ctx, EventTypeOrderPlaced, strconv.FormatInt(order.ID, 10), event)
}

// NewOrderPlacedEvent builds the envelope for a committed order.
func NewOrderPlacedEvent(order domain.Order) (Event, error) {
	payload, err := json.Marshal(OrderPlacedPayload{
		OrderID:   order.ID,
		UserID:    order.UserID,
		ItemID:    order.ItemID,
		Quantity:  order.Quantity,
		CreatedAt: order.CreatedAt.UTC(),
	})
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return Event{
		EventID:      uuid.New().String(),
		EventType:    EventTypeOrderPlaced,
		EventVersion: "1.0.0",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Payload:      payload,
	}, nil
}

func (p *AMQPPublisher) publishWithRetry(ctx context.Context, routingKey, correlationID string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}

		confirm, err := p.channel.PublishWithDeferredConfirmWithContext(
			ctx,
			exchangeName,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:   "application/json",
				DeliveryMode:  amqp.Persistent,
				Timestamp:     time.Now(),
				MessageId:     event.EventID,
				CorrelationId: correlationID,
				Body:          body,
				Headers: amqp.Table{
					"event_type":    event.EventType,
					"event_version": event.EventVersion,
				},
			},
		)
		if err != nil {
			lastErr = err
			p.log.Warn("Failed to publish event, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return err
		}
		if acked {
			p.log.Debug("Event published",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
			)
			return nil
		}
		lastErr = errNotAcked
		p.log.Warn("Event publish not confirmed, retrying", zap.Int("attempt", attempt+1))
	}

	return fmt.Errorf("failed to publish event after %d attempts: %w", maxRetries, lastErr)
}

func (p *AMQPPublisher) IsHealthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Error("Failed to close channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	return nil
}
