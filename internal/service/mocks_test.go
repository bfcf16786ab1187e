package service

import (
	"context"

	"accounts-service/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// passthroughTx runs fn directly on the caller context.
type passthroughTx struct {
	calls int
}

func (p *passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	return fn(ctx)
}

type mockUserRepository struct {
	mock.Mock
}

func userResult(args mock.Arguments) (*domain.User, error) {
	user, _ := args.Get(0).(*domain.User)
	return user, args.Error(1)
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return userResult(m.Called(ctx, id))
}

func (m *mockUserRepository) LockByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return userResult(m.Called(ctx, id))
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return userResult(m.Called(ctx, email))
}

func (m *mockUserRepository) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	args := m.Called(ctx, limit, offset)
	users, _ := args.Get(0).([]domain.User)
	return users, args.Error(1)
}

func (m *mockUserRepository) Update(ctx context.Context, user *domain.User, before domain.Snapshot) error {
	return m.Called(ctx, user, before).Error(0)
}

func (m *mockUserRepository) Delete(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

type mockAccountRepository struct {
	mock.Mock
}

func accountResult(args mock.Arguments) (*domain.Account, error) {
	account, _ := args.Get(0).(*domain.Account)
	return account, args.Error(1)
}

func accountsResult(args mock.Arguments) ([]domain.Account, error) {
	accounts, _ := args.Get(0).([]domain.Account)
	return accounts, args.Error(1)
}

func (m *mockAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return accountResult(m.Called(ctx, id))
}

func (m *mockAccountRepository) LockByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return accountResult(m.Called(ctx, id))
}

func (m *mockAccountRepository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return accountResult(m.Called(ctx, number))
}

func (m *mockAccountRepository) List(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]domain.Account, error) {
	return accountsResult(m.Called(ctx, ownerID, limit, offset))
}

func (m *mockAccountRepository) ListByUser(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Account, error) {
	return accountsResult(m.Called(ctx, ownerID, limit, offset))
}

func (m *mockAccountRepository) Update(ctx context.Context, account *domain.Account, before domain.Snapshot) error {
	return m.Called(ctx, account, before).Error(0)
}

func (m *mockAccountRepository) Delete(ctx context.Context, account *domain.Account) error {
	return m.Called(ctx, account).Error(0)
}

type mockAuditLogRepository struct {
	mock.Mock
}

func (m *mockAuditLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.MutationEvent, error) {
	args := m.Called(ctx, id)
	event, _ := args.Get(0).(*domain.MutationEvent)
	return event, args.Error(1)
}

func (m *mockAuditLogRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.MutationEvent, error) {
	args := m.Called(ctx, filter)
	events, _ := args.Get(0).([]*domain.MutationEvent)
	return events, args.Error(1)
}

func (m *mockAuditLogRepository) ListUnpublished(ctx context.Context, limit int) ([]*domain.MutationEvent, error) {
	args := m.Called(ctx, limit)
	events, _ := args.Get(0).([]*domain.MutationEvent)
	return events, args.Error(1)
}
