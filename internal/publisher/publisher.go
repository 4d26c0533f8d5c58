package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/metrics"
	"github.com/Checker-Finance/trade-escrow/pkg/eventbus"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

const (
	sinkName        = "nats"
	envelopeVersion = "1.0.0"
)

// JetStream is the part of nats.JetStreamContext the publisher needs.
type JetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS connection and publishes trade events as canonical envelopes.
type Publisher struct {
	nc      *nats.Conn
	js      JetStream
	prefix  string
	service string
	logger  *zap.Logger
}

// New creates a Publisher with JetStream enabled on nc.
func New(nc *nats.Conn, prefix, service string, logger *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	p := NewWithJetStream(js, prefix, service, logger)
	p.nc = nc
	return p, nil
}

// NewWithJetStream builds a Publisher on an existing JetStream context.
func NewWithJetStream(js JetStream, prefix, service string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "evt.trade"
	}
	return &Publisher{js: js, prefix: prefix, service: service, logger: logger}
}

// Subject maps a transition like "offer.accepted" to "evt.trade.offer.accepted.v1".
func (p *Publisher) Subject(transition string) string {
	return p.prefix + "." + transition + ".v1"
}

// Attach subscribes the publisher to every event on the bus.
func (p *Publisher) Attach(bus *eventbus.EventBus) {
	bus.Subscribe(sinkName, p.Handle)
}

// Handle is the eventbus.Handler that publishes ev.
func (p *Publisher) Handle(ctx context.Context, ev model.TradeEvent) error {
	env, err := p.envelope(ev)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	return p.PublishEnvelope(ctx, env)
}

func (p *Publisher) envelope(ev model.TradeEvent) (*model.Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: ev.ID,
		Topic:         p.Subject(ev.Transition),
		EventType:     ev.Transition,
		Version:       envelopeVersion,
		Source:        p.service,
		Timestamp:     ev.OccurredAt,
		Payload:       payload,
	}, nil
}

// PublishEnvelope serializes env and publishes it on env.Topic.
func (p *Publisher) PublishEnvelope(ctx context.Context, env *model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", env.Topic),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: env.Topic,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			nats.MsgIdHdr:    []string{env.CorrelationID.String()},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.EventPublishLatency, start, sinkName)

	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", env.Topic),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncEventPublished(sinkName, "error")
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", env.Topic),
		zap.String("event_type", env.EventType))
	metrics.IncEventPublished(sinkName, "ok")
	return nil
}

// Close drains and closes the underlying connection, if any.
func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		_ = p.nc.Drain()
	}
}
