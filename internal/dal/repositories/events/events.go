// Package events publishes domain events to RabbitMQ and parks the ones that could
// not be delivered in the outbox for the redelivery worker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/corray333/backend-labs/materials/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/backend-labs/materials/internal/metrics"
	"github.com/corray333/backend-labs/materials/internal/service/models/event"
	"github.com/corray333/backend-labs/materials/internal/service/models/outbox"
)

const contentTypeJSON = "application/json"

// Broker is the part of the RabbitMQ client the publisher needs.
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey, contentType string, body []byte) error
}

// Publisher implements ieventrepo.IEventPublisher.
type Publisher struct {
	broker         Broker
	outboxRepo     ioutboxrepo.IOutboxRepository
	exchange       string
	maxRetries     int
	publishTimeout time.Duration
	now            func() time.Time
}

// NewPublisher creates a publisher. A nil broker sends every event straight to the outbox.
func NewPublisher(
	broker Broker,
	outboxRepo ioutboxrepo.IOutboxRepository,
	exchange string,
	maxRetries int,
	publishTimeout time.Duration,
) *Publisher {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	if publishTimeout <= 0 {
		publishTimeout = 5 * time.Second
	}

	return &Publisher{
		broker:         broker,
		outboxRepo:     outboxRepo,
		exchange:       exchange,
		maxRetries:     maxRetries,
		publishTimeout: publishTimeout,
		now:            time.Now,
	}
}

// Publish sends evt with its type as routing key. On broker failure the event is
// stored in the outbox; only a failed outbox write is returned.
func (p *Publisher) Publish(ctx context.Context, evt event.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", evt.Type, err)
	}

	routingKey := string(evt.Type)
	var publishErr error
	if p.broker != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.publishTimeout)
		publishErr = p.broker.Publish(pubCtx, p.exchange, routingKey, contentTypeJSON, body)
		cancel()
		if publishErr == nil {
			metrics.RecordOutbox("published")

			return nil
		}
		slog.WarnContext(ctx, "Failed to publish event, storing in outbox",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"error", publishErr,
		)
	}

	msg := p.message(evt.ID, routingKey, body)
	if publishErr != nil {
		msg.LastError = publishErr.Error()
	}

	if err := p.outboxRepo.Insert(context.WithoutCancel(ctx), msg); err != nil {
		return fmt.Errorf("failed to store event %s in outbox: %w", evt.ID, err)
	}
	metrics.RecordOutbox("enqueued")

	return nil
}

// Stage writes evt to outboxRepo without trying the broker. Passing the outbox of
// an open transaction commits the event together with the change it describes.
func (p *Publisher) Stage(ctx context.Context, outboxRepo ioutboxrepo.IOutboxRepository, evt event.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", evt.Type, err)
	}

	if err := outboxRepo.Insert(ctx, p.message(evt.ID, string(evt.Type), body)); err != nil {
		return fmt.Errorf("failed to stage event %s in outbox: %w", evt.ID, err)
	}
	metrics.RecordOutbox("staged")

	return nil
}

// message builds an outbox row that is due immediately.
func (p *Publisher) message(eventID, routingKey string, body []byte) outbox.OutboxMessage {
	now := p.now()

	return outbox.OutboxMessage{
		EventID:      eventID,
		EventType:    routingKey,
		ExchangeName: p.exchange,
		RoutingKey:   routingKey,
		Payload:      body,
		ContentType:  contentTypeJSON,
		MaxRetries:   p.maxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
		NextRetryAt:  now,
	}
}

// LogPublisher only logs events. It serves deployments without a broker.
type LogPublisher struct{}

// Publish logs evt at debug level.
func (LogPublisher) Publish(ctx context.Context, evt event.Event) error {
	slog.DebugContext(ctx, "Domain event", "event_id", evt.ID, "event_type", evt.Type, "aggregate_id", evt.AggregateID)

	return nil
}
