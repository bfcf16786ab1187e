package service

import (
	"context"

	"accounts-service/internal/domain"

	"github.com/google/uuid"
)

type AuditLogRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.MutationEvent, error)
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.MutationEvent, error)
	ListUnpublished(ctx context.Context, limit int) ([]*domain.MutationEvent, error)
}

type AuditServiceInterface interface {
	GetEvent(ctx context.Context, id string) (*domain.MutationEvent, error)
	ListEvents(ctx context.Context, filter domain.AuditFilter) ([]*domain.MutationEvent, error)
	ListUnpublished(ctx context.Context, limit int) ([]*domain.MutationEvent, error)
}

// AuditService reads the audit ledger. Records are written only by the
// mutation interceptor.
type AuditService struct {
	auditRepo AuditLogRepository
}

func NewAuditService(auditRepo AuditLogRepository) *AuditService {
	return &AuditService{auditRepo: auditRepo}
}

func (s *AuditService) GetEvent(ctx context.Context, id string) (*domain.MutationEvent, error) {
	eventID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.auditRepo.GetByID(ctx, eventID)
}

func (s *AuditService) ListEvents(ctx context.Context, filter domain.AuditFilter) ([]*domain.MutationEvent, error) {
	filter.Limit, filter.Offset = page(filter.Limit, filter.Offset)
	return s.auditRepo.List(ctx, filter)
}

func (s *AuditService) ListUnpublished(ctx context.Context, limit int) ([]*domain.MutationEvent, error) {
	limit, _ = page(limit, 0)
	return s.auditRepo.ListUnpublished(ctx, limit)
}
