package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// User errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailAlreadyExists = errors.New("email already registered")
	ErrInvalidUserName    = errors.New("invalid user name")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrInvalidUUID        = errors.New("invalid uuid")
)

const (
	maxUserNameLength = 100
	maxEmailLength    = 150
	minPasswordLength = 3
	maxPasswordLength = 255
)

// User field names as they appear in audit snapshots.
const (
	UserFieldName         = "nome"
	UserFieldEmail        = "email"
	UserFieldPasswordHash = "senhaHash"
	UserFieldActive       = "ativo"
	UserFieldCreatedAt    = "criadoEm"
	UserFieldUpdatedAt    = "atualizadoEm"
	UserFieldAccounts     = "contas"
)

var userFields = []string{
	UserFieldName,
	UserFieldEmail,
	UserFieldPasswordHash,
	UserFieldActive,
	UserFieldCreatedAt,
	UserFieldUpdatedAt,
	UserFieldAccounts,
}

type User struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"nome"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"ativo"`
	CreatedAt    time.Time  `json:"criadoEm"`
	UpdatedAt    time.Time  `json:"atualizadoEm"`
	Accounts     AccountSet `json:"-"`
}

func (u *User) AuditKind() EntityKind { return KindUser }

func (u *User) AuditID() uuid.UUID { return u.ID }

func (u *User) Identifier() uuid.UUID { return u.ID }

// Snapshot captures the persisted state of the user in field order.
func (u *User) Snapshot() Snapshot {
	return Snapshot{
		Fields: userFields,
		Values: []any{
			u.Name,
			u.Email,
			u.PasswordHash,
			u.Active,
			u.CreatedAt,
			u.UpdatedAt,
			u.Accounts,
		},
	}
}

func (u *User) auditable() {}

type CreateUserRequest struct {
	Name     string `json:"nome"`
	Email    string `json:"email"`
	Password string `json:"senha"`
}

type UpdateUserRequest struct {
	Name     *string `json:"nome,omitempty"`
	Email    *string `json:"email,omitempty"`
	Active   *bool   `json:"ativo,omitempty"`
	Password *string `json:"senha,omitempty"`
}

func ValidateUserName(name string) error {
	if name == "" || len(name) > maxUserNameLength {
		return ErrInvalidUserName
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return ErrInvalidPassword
	}
	return nil
}

func ValidateEmailLength(email string) error {
	if email == "" || len(email) > maxEmailLength {
		return ErrInvalidEmail
	}
	return nil
}
