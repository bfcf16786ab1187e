package service

import (
	"context"
	"testing"

	"accounts-service/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type AccountServiceTestSuite struct {
	suite.Suite
	users    *mockUserRepository
	accounts *mockAccountRepository
	service  *accountService
	ctx      context.Context
}

func (s *AccountServiceTestSuite) SetupTest() {
	s.users = &mockUserRepository{}
	s.accounts = &mockAccountRepository{}
	s.service = NewAccountService(&passthroughTx{}, s.accounts, s.users)
	s.ctx = context.Background()
}

func account(number, balance string) *domain.Account {
	return &domain.Account{
		ID:      uuid.New(),
		Number:  number,
		Owner:   domain.NewUserRef(uuid.New()),
		Balance: decimal.RequireFromString(balance),
		Type:    domain.AccountTypeChecking,
		Active:  true,
	}
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func (s *AccountServiceTestSuite) TestCreateAccount() {
	owner := existingUser()
	s.users.On("GetByID", mock.Anything, owner.ID).Return(owner, nil)
	s.accounts.On("GetByNumber", mock.Anything, "001").Return(nil, domain.ErrAccountNotFound)
	s.accounts.On("Create", mock.Anything, mock.AnythingOfType("*domain.Account")).Return(nil)

	created, err := s.service.CreateAccount(s.ctx, domain.CreateAccountRequest{
		Number:  "001",
		OwnerID: owner.ID.String(),
		Type:    domain.AccountTypeSavings,
	})

	require.NoError(s.T(), err)
	assert.Equal(s.T(), owner.ID, created.Owner.ID)
	assert.True(s.T(), created.Owner.Loaded())
	assert.True(s.T(), created.Balance.IsZero())
	assert.True(s.T(), created.Active)
}

func (s *AccountServiceTestSuite) TestCreateAccountOwnerMissing() {
	ownerID := uuid.New()
	s.users.On("GetByID", mock.Anything, ownerID).Return(nil, domain.ErrUserNotFound)

	_, err := s.service.CreateAccount(s.ctx, domain.CreateAccountRequest{
		Number:  "001",
		OwnerID: ownerID.String(),
		Type:    domain.AccountTypeChecking,
	})

	assert.ErrorIs(s.T(), err, domain.ErrOwnerNotFound)
}

func (s *AccountServiceTestSuite) TestCreateAccountRejectsInput() {
	negative := dec("-1")
	_, err := s.service.CreateAccount(s.ctx, domain.CreateAccountRequest{Number: "001", OwnerID: uuid.NewString(), Type: "SALARIO"})
	assert.ErrorIs(s.T(), err, domain.ErrInvalidAccountType)

	_, err = s.service.CreateAccount(s.ctx, domain.CreateAccountRequest{Number: "", OwnerID: uuid.NewString(), Type: domain.AccountTypeChecking})
	assert.ErrorIs(s.T(), err, domain.ErrInvalidAccountNumber)

	_, err = s.service.CreateAccount(s.ctx, domain.CreateAccountRequest{Number: "001", OwnerID: uuid.NewString(), Type: domain.AccountTypeChecking, Balance: &negative})
	assert.ErrorIs(s.T(), err, domain.ErrInvalidBalance)
}

func (s *AccountServiceTestSuite) TestUpdateBalance() {
	acct := account("001", "100.00")
	balance := dec("250.00")

	s.accounts.On("LockByID", mock.Anything, acct.ID).Return(acct, nil)
	s.accounts.On("Update", mock.Anything, acct, mock.MatchedBy(func(before domain.Snapshot) bool {
		return before.Values[2].(decimal.Decimal).Equal(dec("100.00"))
	})).Return(nil)

	updated, err := s.service.UpdateBalance(s.ctx, acct.ID.String(), domain.UpdateBalanceRequest{Balance: &balance})

	require.NoError(s.T(), err)
	assert.True(s.T(), updated.Balance.Equal(balance))
	s.accounts.AssertExpectations(s.T())
}

func (s *AccountServiceTestSuite) TestUpdateBalanceToSameAmountIsNotWritten() {
	acct := account("001", "100.00")
	balance := dec("100")
	s.accounts.On("LockByID", mock.Anything, acct.ID).Return(acct, nil)

	updated, err := s.service.UpdateBalance(s.ctx, acct.ID.String(), domain.UpdateBalanceRequest{Balance: &balance})

	require.NoError(s.T(), err)
	assert.True(s.T(), updated.Balance.Equal(dec("100.00")))
	s.accounts.AssertNotCalled(s.T(), "Update", mock.Anything, mock.Anything, mock.Anything)
}

func (s *AccountServiceTestSuite) TestUpdateBalanceRequiresValue() {
	_, err := s.service.UpdateBalance(s.ctx, uuid.NewString(), domain.UpdateBalanceRequest{})
	assert.ErrorIs(s.T(), err, domain.ErrInvalidBalance)
}

func (s *AccountServiceTestSuite) TestUpdateAccountNumberTaken() {
	acct := account("001", "1.00")
	number := "002"
	s.accounts.On("LockByID", mock.Anything, acct.ID).Return(acct, nil)
	s.accounts.On("GetByNumber", mock.Anything, "002").Return(account("002", "0"), nil)

	_, err := s.service.UpdateAccount(s.ctx, acct.ID.String(), domain.UpdateAccountRequest{Number: &number})

	assert.ErrorIs(s.T(), err, domain.ErrAccountNumberExists)
	s.accounts.AssertNotCalled(s.T(), "Update", mock.Anything, mock.Anything, mock.Anything)
}

func (s *AccountServiceTestSuite) TestTransfer() {
	source := account("001", "100.00")
	destination := account("002", "10.00")
	s.accounts.On("LockByID", mock.Anything, source.ID).Return(source, nil)
	s.accounts.On("LockByID", mock.Anything, destination.ID).Return(destination, nil)
	s.accounts.On("Update", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

	from, to, err := s.service.Transfer(s.ctx, domain.TransferRequest{
		SourceID:      source.ID.String(),
		DestinationID: destination.ID.String(),
		Amount:        dec("40.00"),
	})

	require.NoError(s.T(), err)
	assert.True(s.T(), from.Balance.Equal(dec("60.00")))
	assert.True(s.T(), to.Balance.Equal(dec("50.00")))
	s.accounts.AssertNumberOfCalls(s.T(), "Update", 2)
}

func (s *AccountServiceTestSuite) TestTransferInsufficientBalance() {
	source := account("001", "10.00")
	destination := account("002", "0.00")
	s.accounts.On("LockByID", mock.Anything, source.ID).Return(source, nil)
	s.accounts.On("LockByID", mock.Anything, destination.ID).Return(destination, nil)

	_, _, err := s.service.Transfer(s.ctx, domain.TransferRequest{
		SourceID:      source.ID.String(),
		DestinationID: destination.ID.String(),
		Amount:        dec("10.01"),
	})

	assert.ErrorIs(s.T(), err, domain.ErrInsufficientBalance)
	s.accounts.AssertNotCalled(s.T(), "Update", mock.Anything, mock.Anything, mock.Anything)
}

func (s *AccountServiceTestSuite) TestTransferInactiveAccount() {
	source := account("001", "10.00")
	destination := account("002", "0.00")
	destination.Active = false
	s.accounts.On("LockByID", mock.Anything, source.ID).Return(source, nil)
	s.accounts.On("LockByID", mock.Anything, destination.ID).Return(destination, nil)

	_, _, err := s.service.Transfer(s.ctx, domain.TransferRequest{
		SourceID:      source.ID.String(),
		DestinationID: destination.ID.String(),
		Amount:        dec("1"),
	})

	assert.ErrorIs(s.T(), err, domain.ErrAccountInactive)
}

func (s *AccountServiceTestSuite) TestTransferRejectsInput() {
	id := uuid.NewString()

	_, _, err := s.service.Transfer(s.ctx, domain.TransferRequest{SourceID: id, DestinationID: id, Amount: dec("1")})
	assert.ErrorIs(s.T(), err, domain.ErrSameAccountTransfer)

	_, _, err = s.service.Transfer(s.ctx, domain.TransferRequest{SourceID: id, DestinationID: uuid.NewString(), Amount: dec("0")})
	assert.ErrorIs(s.T(), err, domain.ErrInvalidTransferAmount)
}

func (s *AccountServiceTestSuite) TestListAccountsByUnknownUser() {
	ownerID := uuid.New()
	s.users.On("GetByID", mock.Anything, ownerID).Return(nil, domain.ErrUserNotFound)

	_, err := s.service.ListAccountsByUser(s.ctx, ownerID.String(), 10, 0)

	assert.ErrorIs(s.T(), err, domain.ErrUserNotFound)
	s.accounts.AssertNotCalled(s.T(), "ListByUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *AccountServiceTestSuite) TestDeleteAccount() {
	acct := account("001", "0")
	s.accounts.On("LockByID", mock.Anything, acct.ID).Return(acct, nil)
	s.accounts.On("Delete", mock.Anything, acct).Return(nil)

	require.NoError(s.T(), s.service.DeleteAccount(s.ctx, acct.ID.String()))
	s.accounts.AssertExpectations(s.T())
}

func TestAccountServiceTestSuite(t *testing.T) {
	suite.Run(t, new(AccountServiceTestSuite))
}
