package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"accounts-service/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// postgresAuditLogRepository is the durable audit ledger. Every write runs in
// a transaction of its own, so a captured event survives even when the
// business transaction that produced it rolls back later.
type postgresAuditLogRepository struct {
	db *sql.DB
}

func NewPostgresAuditLogRepository(db *sql.DB) *postgresAuditLogRepository {
	return &postgresAuditLogRepository{db: db}
}

const auditColumns = `id, criado_em, operacao, entidade, entidade_id, usuario_id, correlation_id,
	valores_antigos, valores_novos, campos_alterados, servico_origem, publicado`

// Store persists the event and returns it. Any failure is returned to the
// caller and aborts the mutation that triggered it.
func (r *postgresAuditLogRepository) Store(ctx context.Context, event *domain.MutationEvent) (*domain.MutationEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	oldValues, err := json.Marshal(event.OldValues)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal old values: %w", err)
	}
	newValues, err := json.Marshal(event.NewValues)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal new values: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO contas.audit_log (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false)
	`

	_, err = tx.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		string(event.Operation),
		string(event.EntityName),
		event.EntityID,
		event.ActorID,
		event.CorrelationID,
		string(oldValues),
		string(newValues),
		pq.Array(event.ChangedFields),
		event.SourceService,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit event: %w", err)
	}

	log.WithFields(log.Fields{
		"event_id":  event.ID,
		"operation": event.Operation,
		"entity":    event.EntityName,
	}).Debug("Audit event stored")

	return event, nil
}

// MarkPublished sets the published flag of a stored event. The flag only
// moves from false to true.
func (r *postgresAuditLogRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE contas.audit_log SET publicado = true WHERE id = $1 AND publicado = false`, id)
	if err != nil {
		return fmt.Errorf("failed to mark audit event %s as published: %w", id, err)
	}
	return nil
}

func scanEvent(row rowScanner) (*domain.MutationEvent, error) {
	var (
		event         domain.MutationEvent
		operation     string
		entity        string
		actorID       sql.NullString
		correlationID sql.NullString
		oldValues     []byte
		newValues     []byte
		changed       pq.StringArray
		published     bool
	)
	err := row.Scan(
		&event.ID,
		&event.Timestamp,
		&operation,
		&entity,
		&event.EntityID,
		&actorID,
		&correlationID,
		&oldValues,
		&newValues,
		&changed,
		&event.SourceService,
		&published,
	)
	if err != nil {
		return nil, err
	}

	event.Operation = domain.Operation(operation)
	event.EntityName = domain.EntityKind(entity)
	event.Timestamp = event.Timestamp.UTC()
	if actorID.Valid {
		event.ActorID = &actorID.String
	}
	if correlationID.Valid {
		event.CorrelationID = &correlationID.String
	}
	if err := decodeValues(oldValues, &event.OldValues); err != nil {
		return nil, fmt.Errorf("failed to decode old values: %w", err)
	}
	if err := decodeValues(newValues, &event.NewValues); err != nil {
		return nil, fmt.Errorf("failed to decode new values: %w", err)
	}
	if event.OldValues == nil {
		event.OldValues = map[string]any{}
	}
	if event.NewValues == nil {
		event.NewValues = map[string]any{}
	}
	event.ChangedFields = []string(changed)
	if event.ChangedFields == nil {
		event.ChangedFields = []string{}
	}

	return domain.RestoreMutationEvent(&event, published), nil
}

// decodeValues keeps numbers as json.Number so stored amounts come back with
// their scale.
func decodeValues(raw []byte, out *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

func (r *postgresAuditLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.MutationEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	event, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM contas.audit_log WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAuditEventNotFound
	}
	if err != nil {
		log.WithError(err).WithField("event_id", id).Error("Failed to get audit event")
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	return event, nil
}

func (r *postgresAuditLogRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.MutationEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query, args := buildAuditQuery(filter)
	return r.queryEvents(ctx, query, args...)
}

func buildAuditQuery(filter domain.AuditFilter) (string, []any) {
	var query strings.Builder
	args := []any{}
	argPos := 1

	query.WriteString(`SELECT ` + auditColumns + ` FROM contas.audit_log WHERE 1=1`)

	where := func(column string, value any) {
		query.WriteString(fmt.Sprintf(" AND %s $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if filter.Operation != nil {
		where("operacao =", string(*filter.Operation))
	}
	if filter.EntityName != nil {
		where("entidade =", string(*filter.EntityName))
	}
	if filter.EntityID != nil {
		where("entidade_id =", *filter.EntityID)
	}
	if filter.UserID != nil {
		where("usuario_id =", *filter.UserID)
	}
	if filter.CorrelationID != nil {
		where("correlation_id =", *filter.CorrelationID)
	}
	if filter.From != nil {
		where("criado_em >=", *filter.From)
	}
	if filter.To != nil {
		where("criado_em <=", *filter.To)
	}

	query.WriteString(" ORDER BY criado_em DESC")
	query.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1))
	args = append(args, filter.Limit, filter.Offset)

	return query.String(), args
}

// ListUnpublished returns stored events whose primary delivery never
// succeeded, oldest first.
func (r *postgresAuditLogRepository) ListUnpublished(ctx context.Context, limit int) ([]*domain.MutationEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return r.queryEvents(ctx, `
		SELECT `+auditColumns+`
		FROM contas.audit_log
		WHERE publicado = false
		ORDER BY criado_em ASC
		LIMIT $1`, limit)
}

func (r *postgresAuditLogRepository) queryEvents(ctx context.Context, query string, args ...any) ([]*domain.MutationEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).Error("Failed to list audit events")
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	events := []*domain.MutationEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			log.WithError(err).Error("Failed to scan audit event row")
			return nil, fmt.Errorf("failed to scan audit event row: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
