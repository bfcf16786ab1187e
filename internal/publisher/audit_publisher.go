package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"accounts-service/internal/domain"
	"accounts-service/internal/metrics"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Envelope is one message handed to a broker sender.
type Envelope struct {
	RoutingKey    string
	MessageID     string
	CorrelationID string
	PartitionKey  string
	Body          []byte
}

// Sender delivers an envelope and returns only after the broker confirmed it.
type Sender interface {
	Send(ctx context.Context, msg Envelope) error
}

// PublishedMarker persists the published flag of a stored event.
type PublishedMarker interface {
	MarkPublished(ctx context.Context, id uuid.UUID) error
}

type Options struct {
	RoutingKey      string
	ErrorRoutingKey string
	PublishTimeout  time.Duration
	FallbackTimeout time.Duration
}

type AuditPublisher struct {
	sender Sender
	marker PublishedMarker
	opts   Options
}

func NewAuditPublisher(sender Sender, marker PublishedMarker, opts Options) *AuditPublisher {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	if opts.FallbackTimeout <= 0 {
		opts.FallbackTimeout = opts.PublishTimeout
	}
	return &AuditPublisher{sender: sender, marker: marker, opts: opts}
}

// Publish sends the event under the primary routing key. On any failure the
// same payload goes once to the error routing key. Nothing is returned: the
// outcome is logged and counted.
func (p *AuditPublisher) Publish(ctx context.Context, event *domain.MutationEvent) {
	logger := log.WithFields(log.Fields{
		"event_id":       event.ID,
		"entity_name":    event.EntityName,
		"entity_id":      event.EntityID,
		"operation":      event.Operation,
		"correlation_id": stringOrEmpty(event.CorrelationID),
	})

	body, err := json.Marshal(event.Message())
	if err != nil {
		logger.WithError(err).Warn("Failed to serialize audit event, rerouting to error channel")
		p.fallback(ctx, logger, event, unserializableBody(event, err))
		return
	}

	primaryErr := p.send(ctx, p.opts.PublishTimeout, Envelope{
		RoutingKey:    p.opts.RoutingKey,
		MessageID:     event.ID.String(),
		CorrelationID: stringOrEmpty(event.CorrelationID),
		PartitionKey:  event.EntityID.String(),
		Body:          body,
	})
	if primaryErr != nil {
		logger.WithError(primaryErr).WithField("routing_key", p.opts.RoutingKey).
			Warn("Failed to publish audit event, rerouting to error channel")
		p.fallback(ctx, logger, event, body)
		return
	}

	metrics.AuditPublish.WithLabelValues("published").Inc()
	if !event.MarkPublished() {
		return
	}
	if p.marker != nil {
		if err := p.marker.MarkPublished(ctx, event.ID); err != nil {
			logger.WithError(err).Error("Audit event published but the ledger flag was not updated")
			return
		}
	}
	logger.Debug("Audit event published")
}

func (p *AuditPublisher) fallback(ctx context.Context, logger *log.Entry, event *domain.MutationEvent, body []byte) {
	err := p.send(ctx, p.opts.FallbackTimeout, Envelope{
		RoutingKey:    p.opts.ErrorRoutingKey,
		MessageID:     event.ID.String(),
		CorrelationID: stringOrEmpty(event.CorrelationID),
		PartitionKey:  event.EntityID.String(),
		Body:          body,
	})
	if err != nil {
		metrics.AuditPublish.WithLabelValues("lost").Inc()
		logger.WithError(err).WithFields(log.Fields{
			"routing_key": p.opts.ErrorRoutingKey,
			"severity":    "critical",
		}).Error("Audit event lost: error channel send failed")
		return
	}

	metrics.AuditPublish.WithLabelValues("rerouted").Inc()
	logger.WithField("routing_key", p.opts.ErrorRoutingKey).Info("Audit event routed to error channel")
}

func (p *AuditPublisher) send(ctx context.Context, timeout time.Duration, msg Envelope) (err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panicked: %v", r)
		}
	}()
	return p.sender.Send(ctx, msg)
}

// unserializableBody keeps the identifying part of an event whose values
// could not be encoded, so the error channel still receives something
// traceable.
func unserializableBody(event *domain.MutationEvent, cause error) []byte {
	msg := event.Message()
	msg.OldValues = map[string]any{}
	msg.NewValues = map[string]any{}
	body, err := json.Marshal(struct {
		domain.AuditMessage
		Error string `json:"error"`
	}{AuditMessage: msg, Error: cause.Error()})
	if err != nil {
		return []byte(fmt.Sprintf(`{"id":%q,"error":%q}`, event.ID, cause.Error()))
	}
	return body
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
