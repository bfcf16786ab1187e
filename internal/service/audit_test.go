package service

import (
	"context"
	"testing"

	"accounts-service/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAuditServiceGetEvent(t *testing.T) {
	repo := &mockAuditLogRepository{}
	svc := NewAuditService(repo)
	id := uuid.New()
	repo.On("GetByID", mock.Anything, id).Return(nil, domain.ErrAuditEventNotFound)

	_, err := svc.GetEvent(context.Background(), id.String())
	assert.ErrorIs(t, err, domain.ErrAuditEventNotFound)

	_, err = svc.GetEvent(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidUUID)
}

func TestAuditServiceListEventsAppliesPaging(t *testing.T) {
	repo := &mockAuditLogRepository{}
	svc := NewAuditService(repo)
	kind := domain.KindAccount

	repo.On("List", mock.Anything, mock.MatchedBy(func(f domain.AuditFilter) bool {
		return f.Limit == 10 && f.Offset == 0 && f.EntityName != nil && *f.EntityName == kind
	})).Return([]*domain.MutationEvent{}, nil)

	events, err := svc.ListEvents(context.Background(), domain.AuditFilter{EntityName: &kind, Offset: -1})

	require.NoError(t, err)
	assert.Empty(t, events)
	repo.AssertExpectations(t)
}

func TestAuditServiceListUnpublished(t *testing.T) {
	repo := &mockAuditLogRepository{}
	svc := NewAuditService(repo)
	repo.On("ListUnpublished", mock.Anything, domain.MaxListLimit).Return([]*domain.MutationEvent{}, nil)

	_, err := svc.ListUnpublished(context.Background(), 1000)

	require.NoError(t, err)
	repo.AssertExpectations(t)
}
