package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/bookhive/bookhive/internal/ledger"
)

const (
	exchangeName = "bookhive.events"
	exchangeType = "topic"

	// Routing keys
	EventTypeBookAdded = "catalog.created"

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Event is the wire envelope for every published message.
type Event struct {
	EventID      string                 `json:"event_id"`
	EventType    string                 `json:"event_type"`
	EventVersion string                 `json:"event_version"`
	Timestamp    string                 `json:"timestamp"`
	Payload      map[string]interface{} `json:"payload"`
}

// Publisher publishes domain events to RabbitMQ. It implements
// ledger.EventSink, so committed lending events flow out fire-and-forget:
// a broker failure is logged and swallowed, never surfaced to the ledger.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.Logger
}

// NewPublisher connects to RabbitMQ and declares the topic exchange.
func NewPublisher(url string, log *zap.Logger) (*Publisher, error) {
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
		nil,   // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Publisher confirms so retries only fire on genuine failures.
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	log.Info("Connected to RabbitMQ", zap.String("exchange", exchangeName))

	return &Publisher{
		conn:    conn,
		channel: channel,
		log:     log,
	}, nil
}

// PublishBookAdded announces a new catalog title. The notifier consumer fans
// this out to reader notifications.
func (p *Publisher) PublishBookAdded(ctx context.Context, isbn, title, author string) error {
	event := Event{
		EventID:      uuid.New().String(),
		EventType:    EventTypeBookAdded,
		EventVersion: "1.0.0",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Payload: map[string]interface{}{
			"isbn":   isbn,
			"title":  title,
			"author": author,
		},
	}

	return p.publishWithRetry(ctx, EventTypeBookAdded, event)
}

// LendingEvent implements ledger.EventSink. The ledger transaction has
// already committed; publish failures are logged and dropped.
func (p *Publisher) LendingEvent(ctx context.Context, evt ledger.Event) {
	event := Event{
		EventID:      uuid.New().String(),
		EventType:    string(evt.Kind),
		EventVersion: "1.0.0",
		Timestamp:    evt.OccurredAt.UTC().Format(time.RFC3339),
		Payload: map[string]interface{}{
			"isbn":          evt.BookISBN,
			"title":         evt.BookTitle,
			"user_id":       evt.UserID,
			"borrowing_id":  evt.BorrowingID,
			"back_in_stock": evt.BackInStock,
		},
	}

	if err := p.publishWithRetry(ctx, string(evt.Kind), event); err != nil {
		p.log.Warn("Dropping lending event after publish failure",
			zap.String("event_type", string(evt.Kind)),
			zap.String("isbn", evt.BookISBN),
			zap.Error(err),
		)
	}
}

// publishWithRetry publishes an event with exponential backoff.
func (p *Publisher) publishWithRetry(ctx context.Context, routingKey string, event Event) error {
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

		confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(
			ctx,
			exchangeName,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				MessageId:    event.EventID,
				Body:         body,
				Headers: amqp.Table{
					"event_type":    event.EventType,
					"event_version": event.EventVersion,
				},
			},
		)
		if err != nil {
			lastErr = err
			p.log.Warn("Failed to publish event, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		select {
		case <-confirmation.Done():
			if confirmation.Acked() {
				p.log.Debug("Event published",
					zap.String("event_id", event.EventID),
					zap.String("routing_key", routingKey),
				)
				return nil
			}
			lastErr = fmt.Errorf("event not acknowledged")
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			lastErr = fmt.Errorf("confirmation timeout")
		}
	}

	return fmt.Errorf("failed to publish event after %d attempts: %w", maxRetries, lastErr)
}

// IsHealthy reports whether the broker connection is alive.
func (p *Publisher) IsHealthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// Close closes the publisher connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Error("Failed to close channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.log.Error("Failed to close connection", zap.Error(err))
			return err
		}
	}
	return nil
}
