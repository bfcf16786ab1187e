package audit

import (
	"context"
	"errors"
	"fmt"

	"accounts-service/internal/actor"
	"accounts-service/internal/domain"
	"accounts-service/internal/metrics"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var errMissingIdentifier = errors.New("entity has no identifier")

type Store interface {
	Store(ctx context.Context, event *domain.MutationEvent) (*domain.MutationEvent, error)
}

type CommitDispatcher interface {
	OnCommit(ctx context.Context, callback func(ctx context.Context)) error
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.MutationEvent)
}

// Interceptor turns persistence lifecycle callbacks into stored mutation
// events and arms their publication on commit.
type Interceptor struct {
	store         Store
	dispatcher    CommitDispatcher
	publisher     Publisher
	sourceService string
}

func NewInterceptor(store Store, dispatcher CommitDispatcher, publisher Publisher, sourceService string) *Interceptor {
	return &Interceptor{
		store:         store,
		dispatcher:    dispatcher,
		publisher:     publisher,
		sourceService: sourceService,
	}
}

func (i *Interceptor) OnInsert(ctx context.Context, entity domain.Auditable, state domain.Snapshot) error {
	return i.intercept(ctx, domain.OperationInsert, entity, nil, &state)
}

func (i *Interceptor) OnUpdate(ctx context.Context, entity domain.Auditable, oldState, newState domain.Snapshot) error {
	return i.intercept(ctx, domain.OperationUpdate, entity, &oldState, &newState)
}

func (i *Interceptor) OnDelete(ctx context.Context, entity domain.Auditable, state domain.Snapshot) error {
	return i.intercept(ctx, domain.OperationDelete, entity, &state, nil)
}

// intercept never fails the mutation because of capture problems. Store and
// commit registration failures are returned to the caller.
func (i *Interceptor) intercept(ctx context.Context, op domain.Operation, entity domain.Auditable, oldState, newState *domain.Snapshot) error {
	event, err := i.capture(ctx, op, entity, oldState, newState)
	if err != nil {
		kind := entityKind(entity)
		metrics.AuditCaptureErrors.WithLabelValues(kind).Inc()
		log.WithError(err).WithFields(log.Fields{
			"entity_name": kind,
			"operation":   op,
		}).Error("Failed to capture audit event")
		return nil
	}
	if event == nil {
		return nil
	}

	logger := log.WithFields(log.Fields{
		"event_id":    event.ID,
		"entity_name": event.EntityName,
		"entity_id":   event.EntityID,
		"operation":   event.Operation,
	})

	stored, err := i.store.Store(ctx, event)
	if err != nil {
		metrics.AuditStoreFailures.Inc()
		logger.WithError(err).Error("Failed to store audit event")
		return fmt.Errorf("failed to store audit event: %w", err)
	}

	if err := i.dispatcher.OnCommit(ctx, func(ctx context.Context) {
		i.publisher.Publish(ctx, stored)
	}); err != nil {
		logger.WithError(err).Error("Failed to arm audit publication")
		return fmt.Errorf("failed to register audit publication: %w", err)
	}

	logger.Debug("Audit event stored, publication armed for commit")
	return nil
}

func (i *Interceptor) capture(ctx context.Context, op domain.Operation, entity domain.Auditable, oldState, newState *domain.Snapshot) (event *domain.MutationEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			event = nil
			err = fmt.Errorf("panic during audit capture: %v", r)
		}
	}()

	if entity == nil || !entity.AuditKind().Valid() {
		return nil, nil
	}

	oldValues, err := NormalizeSnapshot(oldState)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize old state: %w", err)
	}
	newValues, err := NormalizeSnapshot(newState)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize new state: %w", err)
	}

	if entity.AuditID() == uuid.Nil {
		return nil, errMissingIdentifier
	}

	event = domain.NewMutationEvent(domain.MutationEventParams{
		Operation:     op,
		Entity:        entity,
		ActorID:       actor.Ptr(actor.ActorID(ctx)),
		CorrelationID: actor.Ptr(actor.CorrelationID(ctx)),
		OldValues:     oldValues,
		NewValues:     newValues,
		ChangedFields: ChangedFields(oldValues, newValues, fieldOrder(newState, oldState)),
		SourceService: i.sourceService,
	})

	metrics.AuditEventsCaptured.WithLabelValues(string(event.EntityName), string(op)).Inc()
	return event, nil
}

func fieldOrder(snapshots ...*domain.Snapshot) []string {
	for _, s := range snapshots {
		if s != nil && s.Len() > 0 {
			return s.Fields
		}
	}
	return nil
}

func entityKind(entity domain.Auditable) (kind string) {
	defer func() {
		if recover() != nil {
			kind = "unknown"
		}
	}()
	if entity == nil {
		return "unknown"
	}
	return string(entity.AuditKind())
}
