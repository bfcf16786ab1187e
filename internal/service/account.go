package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"accounts-service/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	LockByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByNumber(ctx context.Context, number string) (*domain.Account, error)
	List(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]domain.Account, error)
	ListByUser(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Account, error)
	Update(ctx context.Context, account *domain.Account, before domain.Snapshot) error
	Delete(ctx context.Context, account *domain.Account) error
}

type AccountServiceInterface interface {
	CreateAccount(ctx context.Context, req domain.CreateAccountRequest) (*domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]domain.Account, error)
	ListAccountsByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Account, error)
	UpdateAccount(ctx context.Context, id string, req domain.UpdateAccountRequest) (*domain.Account, error)
	UpdateBalance(ctx context.Context, id string, req domain.UpdateBalanceRequest) (*domain.Account, error)
	Transfer(ctx context.Context, req domain.TransferRequest) (*domain.Account, *domain.Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

type accountService struct {
	tx          Transactor
	accountRepo AccountRepository
	userRepo    UserRepository
}

func NewAccountService(tx Transactor, accountRepo AccountRepository, userRepo UserRepository) *accountService {
	return &accountService{
		tx:          tx,
		accountRepo: accountRepo,
		userRepo:    userRepo,
	}
}

func (s *accountService) CreateAccount(ctx context.Context, req domain.CreateAccountRequest) (*domain.Account, error) {
	req.Number = strings.TrimSpace(req.Number)
	if err := domain.ValidateAccountNumber(req.Number); err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, domain.ErrInvalidAccountType
	}
	ownerID, err := parseID(req.OwnerID)
	if err != nil {
		return nil, err
	}
	balance := decimal.Zero
	if req.Balance != nil {
		balance = *req.Balance
	}
	if err := domain.ValidateBalance(balance); err != nil {
		return nil, err
	}

	var account *domain.Account
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		owner, err := s.userRepo.GetByID(ctx, ownerID)
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrOwnerNotFound
		}
		if err != nil {
			return err
		}

		existing, err := s.accountRepo.GetByNumber(ctx, req.Number)
		if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
			return err
		}
		if existing != nil {
			return domain.ErrAccountNumberExists
		}

		now := time.Now().UTC()
		account = &domain.Account{
			ID:        uuid.New(),
			Number:    req.Number,
			Owner:     domain.RefTo(owner),
			Balance:   balance,
			Type:      req.Type,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.accountRepo.Create(ctx, account)
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"number":   req.Number,
			"owner_id": req.OwnerID,
		}).Error("Failed to create account")
		return nil, err
	}

	return account, nil
}

func (s *accountService) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	accountID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.accountRepo.GetByID(ctx, accountID)
}

func (s *accountService) ListAccounts(ctx context.Context, limit, offset int) ([]domain.Account, error) {
	limit, offset = page(limit, offset)
	return s.accountRepo.List(ctx, nil, limit, offset)
}

func (s *accountService) ListAccountsByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Account, error) {
	ownerID, err := parseID(userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.userRepo.GetByID(ctx, ownerID); err != nil {
		return nil, err
	}

	limit, offset = page(limit, offset)
	return s.accountRepo.ListByUser(ctx, ownerID, limit, offset)
}

func (s *accountService) UpdateAccount(ctx context.Context, id string, req domain.UpdateAccountRequest) (*domain.Account, error) {
	accountID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if req.Number != nil {
		number := strings.TrimSpace(*req.Number)
		if err := domain.ValidateAccountNumber(number); err != nil {
			return nil, err
		}
		req.Number = &number
	}
	if req.Type != nil && !req.Type.Valid() {
		return nil, domain.ErrInvalidAccountType
	}

	return s.mutate(ctx, accountID, func(ctx context.Context, account *domain.Account) error {
		if req.Number != nil && *req.Number != account.Number {
			existing, err := s.accountRepo.GetByNumber(ctx, *req.Number)
			if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
				return err
			}
			if existing != nil {
				return domain.ErrAccountNumberExists
			}
			account.Number = *req.Number
		}
		if req.Type != nil {
			account.Type = *req.Type
		}
		if req.Active != nil {
			account.Active = *req.Active
		}
		return nil
	})
}

func (s *accountService) UpdateBalance(ctx context.Context, id string, req domain.UpdateBalanceRequest) (*domain.Account, error) {
	accountID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if req.Balance == nil {
		return nil, domain.ErrInvalidBalance
	}
	if err := domain.ValidateBalance(*req.Balance); err != nil {
		return nil, err
	}

	return s.mutate(ctx, accountID, func(_ context.Context, account *domain.Account) error {
		account.Balance = *req.Balance
		return nil
	})
}

// mutate locks the account, applies change and saves it with the
// pre-change snapshot.
func (s *accountService) mutate(ctx context.Context, id uuid.UUID, change func(ctx context.Context, account *domain.Account) error) (*domain.Account, error) {
	var account *domain.Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.accountRepo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		before := account.Snapshot()
		if err := change(ctx, account); err != nil {
			return err
		}
		if unchanged(before, account.Snapshot()) {
			return nil
		}
		return s.accountRepo.Update(ctx, account, before)
	})
	if err != nil {
		log.WithError(err).WithField("account_id", id).Error("Failed to update account")
		return nil, err
	}

	log.WithField("account_id", id).Info("Account successfully updated")
	return account, nil
}

// Transfer moves amount between two accounts in one transaction. Rows are
// locked in id order so concurrent opposite transfers cannot deadlock.
func (s *accountService) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.Account, *domain.Account, error) {
	sourceID, err := parseID(req.SourceID)
	if err != nil {
		return nil, nil, err
	}
	destinationID, err := parseID(req.DestinationID)
	if err != nil {
		return nil, nil, err
	}
	if sourceID == destinationID {
		return nil, nil, domain.ErrSameAccountTransfer
	}
	if !req.Amount.IsPositive() {
		return nil, nil, domain.ErrInvalidTransferAmount
	}

	var source, destination *domain.Account
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		first, second := sourceID, destinationID
		if strings.Compare(first.String(), second.String()) > 0 {
			first, second = second, first
		}
		locked := map[uuid.UUID]*domain.Account{}
		for _, id := range []uuid.UUID{first, second} {
			account, err := s.accountRepo.LockByID(ctx, id)
			if err != nil {
				return err
			}
			locked[id] = account
		}
		source, destination = locked[sourceID], locked[destinationID]

		if !source.Active || !destination.Active {
			return domain.ErrAccountInactive
		}
		if source.Balance.LessThan(req.Amount) {
			return domain.ErrInsufficientBalance
		}

		sourceBefore := source.Snapshot()
		source.Balance = source.Balance.Sub(req.Amount)
		if err := s.accountRepo.Update(ctx, source, sourceBefore); err != nil {
			return err
		}

		destinationBefore := destination.Snapshot()
		destination.Balance = destination.Balance.Add(req.Amount)
		return s.accountRepo.Update(ctx, destination, destinationBefore)
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"source_id":      req.SourceID,
			"destination_id": req.DestinationID,
			"amount":         req.Amount.String(),
		}).Error("Transfer failed")
		return nil, nil, err
	}

	log.WithFields(log.Fields{
		"source_id":      sourceID,
		"destination_id": destinationID,
		"amount":         req.Amount.String(),
	}).Info("Transfer completed")

	return source, destination, nil
}

func (s *accountService) DeleteAccount(ctx context.Context, id string) error {
	accountID, err := parseID(id)
	if err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		account, err := s.accountRepo.LockByID(ctx, accountID)
		if err != nil {
			return err
		}
		return s.accountRepo.Delete(ctx, account)
	})
	if err != nil {
		log.WithError(err).WithField("account_id", id).Error("Failed to delete account")
		return err
	}

	log.WithField("account_id", id).Info("Account successfully deleted")
	return nil
}
