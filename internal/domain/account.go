package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxAccountNumberLength = 20

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrAccountNumberExists   = errors.New("account number already exists")
	ErrInvalidAccountNumber  = errors.New("invalid account number")
	ErrInvalidAccountType    = errors.New("invalid account type")
	ErrInvalidBalance        = errors.New("invalid balance")
	ErrInvalidTransferAmount = errors.New("transfer amount must be positive")
	ErrSameAccountTransfer   = errors.New("source and destination accounts must differ")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrAccountInactive       = errors.New("account is inactive")
	ErrOwnerNotFound         = errors.New("account owner not found")
)

type AccountType string

const (
	AccountTypeChecking AccountType = "CORRENTE"
	AccountTypeSavings  AccountType = "POUPANCA"
)

func (t AccountType) EnumName() string { return string(t) }

func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeChecking, AccountTypeSavings:
		return true
	}
	return false
}

// Account field names as they appear in audit snapshots.
const (
	AccountFieldNumber    = "numeroConta"
	AccountFieldOwner     = "usuario"
	AccountFieldBalance   = "saldo"
	AccountFieldType      = "tipo"
	AccountFieldActive    = "ativa"
	AccountFieldCreatedAt = "criadoEm"
	AccountFieldUpdatedAt = "atualizadoEm"
)

var accountFields = []string{
	AccountFieldNumber,
	AccountFieldOwner,
	AccountFieldBalance,
	AccountFieldType,
	AccountFieldActive,
	AccountFieldCreatedAt,
	AccountFieldUpdatedAt,
}

type Account struct {
	ID        uuid.UUID       `json:"id"`
	Number    string          `json:"numeroConta"`
	Owner     UserRef         `json:"-"`
	Balance   decimal.Decimal `json:"saldo"`
	Type      AccountType     `json:"tipo"`
	Active    bool            `json:"ativa"`
	CreatedAt time.Time       `json:"criadoEm"`
	UpdatedAt time.Time       `json:"atualizadoEm"`
}

// AccountResponse flattens the owner reference for API consumers.
type AccountResponse struct {
	*Account
	OwnerID uuid.UUID `json:"usuarioId"`
}

func (a *Account) Response() AccountResponse {
	return AccountResponse{Account: a, OwnerID: a.Owner.ID}
}

func (a *Account) AuditKind() EntityKind { return KindAccount }

func (a *Account) AuditID() uuid.UUID { return a.ID }

func (a *Account) Identifier() uuid.UUID { return a.ID }

// Snapshot captures the persisted state of the account in field order.
func (a *Account) Snapshot() Snapshot {
	return Snapshot{
		Fields: accountFields,
		Values: []any{
			a.Number,
			a.Owner,
			a.Balance,
			a.Type,
			a.Active,
			a.CreatedAt,
			a.UpdatedAt,
		},
	}
}

func (a *Account) auditable() {}

// AccountSet is the lazily loaded accounts association of a user.
type AccountSet struct {
	ownerID uuid.UUID
	items   []Account
	loaded  bool
}

func NewAccountSet(ownerID uuid.UUID) AccountSet {
	return AccountSet{ownerID: ownerID}
}

func (s AccountSet) Loaded() bool { return s.loaded }

func (s AccountSet) Items() []Account { return s.items }

func (s *AccountSet) Load(items []Account) {
	s.items = items
	s.loaded = true
}

func (AccountSet) collection() {}

type CreateAccountRequest struct {
	Number  string           `json:"numeroConta"`
	OwnerID string           `json:"usuarioId"`
	Type    AccountType      `json:"tipo"`
	Balance *decimal.Decimal `json:"saldo,omitempty"`
}

type UpdateAccountRequest struct {
	Number *string      `json:"numeroConta,omitempty"`
	Type   *AccountType `json:"tipo,omitempty"`
	Active *bool        `json:"ativa,omitempty"`
}

type UpdateBalanceRequest struct {
	Balance *decimal.Decimal `json:"saldo"`
}

type TransferRequest struct {
	SourceID      string          `json:"contaOrigemId"`
	DestinationID string          `json:"contaDestinoId"`
	Amount        decimal.Decimal `json:"valor"`
}

func ValidateAccountNumber(number string) error {
	if number == "" || len(number) > maxAccountNumberLength {
		return ErrInvalidAccountNumber
	}
	if strings.ContainsAny(number, " ") {
		return ErrInvalidAccountNumber
	}
	return nil
}

func ValidateBalance(balance decimal.Decimal) error {
	if balance.IsNegative() {
		return ErrInvalidBalance
	}
	return nil
}
