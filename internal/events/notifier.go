package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/bookhive/bookhive/internal/db"
	"github.com/bookhive/bookhive/internal/ledger"
	"github.com/bookhive/bookhive/internal/repo"
)

// Notifier consumes catalog and lending events and fans them out as in-app
// notification rows, one per reader. It runs outside any ledger transaction:
// losing a notification never affects lending state.
type Notifier struct {
	conn          *amqp.Connection
	channel       *amqp.Channel
	users         *repo.UserRepository
	notifications *repo.NotificationRepository
	log           *zap.Logger
}

// NewNotifier connects to RabbitMQ and declares the shared exchange.
func NewNotifier(url string, users *repo.UserRepository, notifications *repo.NotificationRepository, log *zap.Logger) (*Notifier, error) {
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
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Notifier{
		conn:          conn,
		channel:       channel,
		users:         users,
		notifications: notifications,
		log:           log,
	}, nil
}

// Start declares the notifier queue, binds it and consumes until the
// channel closes.
func (n *Notifier) Start(ctx context.Context) error {
	queue, err := n.channel.QueueDeclare(
		"bookhive.notifier.queue",
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	routingKeys := []string{
		EventTypeBookAdded,
		string(ledger.EventReturned),
		string(ledger.EventCanceled),
	}
	for _, key := range routingKeys {
		if err := n.channel.QueueBind(queue.Name, key, exchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
		n.log.Info("Listening for events", zap.String("routing_key", key))
	}

	msgs, err := n.channel.Consume(
		queue.Name,
		"bookhive-notifier", // consumer tag
		false,               // auto-ack
		false,               // exclusive
		false,               // no-local
		false,               // no-wait
		nil,                 // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			n.handleMessage(ctx, msg)
		}
	}
}

func (n *Notifier) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		n.log.Warn("Discarding malformed event", zap.String("routing_key", msg.RoutingKey), zap.Error(err))
		msg.Nack(false, false)
		return
	}

	var err error
	switch msg.RoutingKey {
	case EventTypeBookAdded:
		err = n.fanOut(ctx, event,
			fmt.Sprintf("New book available: %q by %s. Borrow it before it runs out!",
				stringField(event, "title"), stringField(event, "author")))
	case string(ledger.EventReturned), string(ledger.EventCanceled):
		if backInStock, _ := event.Payload["back_in_stock"].(bool); backInStock {
			err = n.fanOut(ctx, event,
				fmt.Sprintf("%q is back in stock.", stringField(event, "title")))
		}
	default:
		n.log.Debug("Ignoring event", zap.String("routing_key", msg.RoutingKey))
	}

	if err != nil {
		n.log.Error("Failed to handle event",
			zap.String("routing_key", msg.RoutingKey),
			zap.Error(err),
		)
		msg.Nack(false, true) // requeue, the store may be back shortly
		return
	}
	msg.Ack(false)
}

func (n *Notifier) fanOut(ctx context.Context, event Event, message string) error {
	readerIDs, err := n.users.ListIDsByRole(ctx, db.RoleReader)
	if err != nil {
		return err
	}
	return n.notifications.CreateForUsers(ctx, readerIDs, stringField(event, "isbn"), message)
}

// Close closes the consumer connection.
func (n *Notifier) Close() error {
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

func stringField(event Event, key string) string {
	value, _ := event.Payload[key].(string)
	return value
}
