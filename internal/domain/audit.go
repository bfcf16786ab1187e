package domain

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const MaxListLimit = 100

var ErrAuditEventNotFound = errors.New("audit event not found")

// EntityKind tags the closed set of auditable entity kinds. The value is the
// entity name carried on the wire.
type EntityKind string

const (
	KindUser    EntityKind = "Usuario"
	KindAccount EntityKind = "Conta"
)

func (k EntityKind) Valid() bool {
	switch k {
	case KindUser, KindAccount:
		return true
	}
	return false
}

// Auditable is implemented by every entity whose mutations are captured.
// The unexported method keeps the set closed to this package.
type Auditable interface {
	AuditKind() EntityKind
	AuditID() uuid.UUID
	Snapshot() Snapshot
	auditable()
}

// Snapshot pairs an ordered list of field names with the raw values
// captured from an entity at one point in its lifecycle.
type Snapshot struct {
	Fields []string
	Values []any
}

func (s Snapshot) Len() int { return len(s.Fields) }

// Identifiable is a reference to another entity that may not be loaded.
type Identifiable interface {
	Identifier() uuid.UUID
}

// Collection marks collection-valued associations.
type Collection interface {
	collection()
}

// Enumerated is implemented by enum constants.
type Enumerated interface {
	EnumName() string
}

// UserRef is a lazy reference from an account to its owner.
type UserRef struct {
	ID   uuid.UUID
	user *User
}

func NewUserRef(id uuid.UUID) UserRef { return UserRef{ID: id} }

func RefTo(u *User) UserRef { return UserRef{ID: u.ID, user: u} }

func (r UserRef) Identifier() uuid.UUID { return r.ID }

func (r UserRef) Loaded() bool { return r.user != nil }

func (r UserRef) User() *User { return r.user }

type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OperationInsert, OperationUpdate, OperationDelete:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// MutationEvent is the captured before/after record of one lifecycle
// callback. Only the published flag changes after construction.
type MutationEvent struct {
	ID            uuid.UUID
	Timestamp     time.Time
	Operation     Operation
	EntityName    EntityKind
	EntityID      uuid.UUID
	ActorID       *string
	CorrelationID *string
	OldValues     map[string]any
	NewValues     map[string]any
	ChangedFields []string
	SourceService string

	published atomic.Bool
}

type MutationEventParams struct {
	Operation     Operation
	Entity        Auditable
	ActorID       *string
	CorrelationID *string
	OldValues     map[string]any
	NewValues     map[string]any
	ChangedFields []string
	SourceService string
}

func NewMutationEvent(p MutationEventParams) *MutationEvent {
	e := &MutationEvent{
		ID:            uuid.New(),
		Timestamp:     time.Now().UTC(),
		Operation:     p.Operation,
		EntityName:    p.Entity.AuditKind(),
		EntityID:      p.Entity.AuditID(),
		ActorID:       p.ActorID,
		CorrelationID: p.CorrelationID,
		OldValues:     p.OldValues,
		NewValues:     p.NewValues,
		ChangedFields: p.ChangedFields,
		SourceService: p.SourceService,
	}
	if e.OldValues == nil {
		e.OldValues = map[string]any{}
	}
	if e.NewValues == nil {
		e.NewValues = map[string]any{}
	}
	if e.ChangedFields == nil {
		e.ChangedFields = []string{}
	}
	return e
}

// RestoreMutationEvent rebuilds an event read back from the audit ledger.
func RestoreMutationEvent(e *MutationEvent, published bool) *MutationEvent {
	e.published.Store(published)
	return e
}

func (e *MutationEvent) Published() bool { return e.published.Load() }

// MarkPublished flips published to true. It reports false if the event was
// already marked.
func (e *MutationEvent) MarkPublished() bool {
	return e.published.CompareAndSwap(false, true)
}

// AuditMessage is the JSON document sent to the broker.
type AuditMessage struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Operation     Operation      `json:"operation"`
	EntityName    string         `json:"entityName"`
	EntityID      string         `json:"entityId"`
	UserID        *string        `json:"userId"`
	OldValues     map[string]any `json:"oldValues"`
	NewValues     map[string]any `json:"newValues"`
	ChangedFields []string       `json:"changedFields"`
	SourceService string         `json:"sourceService"`
	CorrelationID *string        `json:"correlationId"`
}

func (e *MutationEvent) Message() AuditMessage {
	return AuditMessage{
		ID:            e.ID.String(),
		Timestamp:     e.Timestamp,
		Operation:     e.Operation,
		EntityName:    string(e.EntityName),
		EntityID:      e.EntityID.String(),
		UserID:        e.ActorID,
		OldValues:     e.OldValues,
		NewValues:     e.NewValues,
		ChangedFields: e.ChangedFields,
		SourceService: e.SourceService,
		CorrelationID: e.CorrelationID,
	}
}

// AuditRecord is the API view of a stored event.
type AuditRecord struct {
	AuditMessage
	Published bool `json:"published"`
}

func (e *MutationEvent) Record() AuditRecord {
	return AuditRecord{AuditMessage: e.Message(), Published: e.Published()}
}

type AuditFilter struct {
	Operation     *Operation
	EntityName    *EntityKind
	EntityID      *uuid.UUID
	UserID        *string
	CorrelationID *string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}
