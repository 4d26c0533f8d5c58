package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/metrics"
	"github.com/Checker-Finance/trade-escrow/pkg/eventbus"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

const (
	// RoutingKeyTradeEvents is the routing key every trade event is published under.
	RoutingKeyTradeEvents = "trade.events"

	sinkName = "rabbitmq"
)

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards trade events to RabbitMQ for the external notifier.
type Publisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher dials url and opens a channel.
func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p := NewWithChannel(channel, exchange, logger)
	p.conn = conn
	return p, nil
}

// NewWithChannel builds a Publisher on an already open channel.
func NewWithChannel(ch Channel, exchange string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{channel: ch, exchange: exchange, logger: logger}
}

// Attach subscribes the publisher to every event on the bus.
func (p *Publisher) Attach(bus *eventbus.EventBus) {
	bus.Subscribe(sinkName, p.Handle)
}

// Handle publishes ev as JSON. Payment and deal events go out with higher priority.
func (p *Publisher) Handle(ctx context.Context, ev model.TradeEvent) error {
	if ev.EntityID == "" || ev.Transition == "" {
		p.logger.Error("rabbitmq.invalid_event", zap.Any("event", ev))
		return fmt.Errorf("event without entity id or transition")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		metrics.IncError("rabbitmq", "marshal_failed")
		return fmt.Errorf("marshal event: %w", err)
	}

	var priority uint8
	switch ev.Entity {
	case model.EntityPayment, model.EntityDeal:
		priority = 5
	}

	start := time.Now()
	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKeyTradeEvents,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID.String(),
			Type:         ev.Transition,
			Timestamp:    ev.OccurredAt,
			Priority:     priority,
			Body:         body,
		},
	)
	metrics.ObserveDuration(metrics.EventPublishLatency, start, sinkName)
	if err != nil {
		p.logger.Error("rabbitmq.publish_failed",
			zap.String("transition", ev.Transition),
			zap.String("entity_id", ev.EntityID),
			zap.Error(err))
		metrics.IncEventPublished(sinkName, "error")
		return err
	}

	p.logger.Debug("rabbitmq.published",
		zap.String("transition", ev.Transition),
		zap.String("entity_id", ev.EntityID))
	metrics.IncEventPublished(sinkName, "ok")
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
