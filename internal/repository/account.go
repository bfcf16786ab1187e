package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"accounts-service/internal/domain"
	"accounts-service/internal/txn"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type postgresAccountRepository struct {
	db   *sql.DB
	hook MutationHook
}

func NewPostgresAccountRepository(db *sql.DB, hook MutationHook) *postgresAccountRepository {
	return &postgresAccountRepository{db: db, hook: hook}
}

const accountColumns = `id, numero_conta, usuario_id, saldo, tipo, ativa, criado_em, atualizado_em`

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var ownerID uuid.UUID
	err := row.Scan(
		&account.ID,
		&account.Number,
		&ownerID,
		&account.Balance,
		&account.Type,
		&account.Active,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.Owner = domain.NewUserRef(ownerID)
	return &account, nil
}

func (r *postgresAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithFields(log.Fields{
		"account_id": account.ID,
		"number":     account.Number,
		"owner_id":   account.Owner.ID,
	}).Info("Creating new account")

	query := `
		INSERT INTO contas.contas_bancarias (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := txn.Executor(ctx, r.db).ExecContext(ctx, query,
		account.ID,
		account.Number,
		account.Owner.ID,
		account.Balance,
		string(account.Type),
		account.Active,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAccountNumberExists
		}
		log.WithError(err).WithField("number", account.Number).Error("Failed to create account")
		return fmt.Errorf("failed to create account: %w", err)
	}

	return r.hook.OnInsert(ctx, account, account.Snapshot())
}

func (r *postgresAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM contas.contas_bancarias WHERE id = $1`, id)
}

// LockByID reads the account with a row lock held until the surrounding
// transaction ends.
func (r *postgresAccountRepository) LockByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM contas.contas_bancarias WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresAccountRepository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM contas.contas_bancarias WHERE numero_conta = $1`, number)
}

func (r *postgresAccountRepository) getOne(ctx context.Context, query string, arg any) (*domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	account, err := scanAccount(txn.Executor(ctx, r.db).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		log.WithError(err).WithField("lookup", arg).Error("Failed to get account")
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (r *postgresAccountRepository) List(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows *sql.Rows
	var err error
	if ownerID != nil {
		rows, err = txn.Executor(ctx, r.db).QueryContext(ctx, `
			SELECT `+accountColumns+`
			FROM contas.contas_bancarias
			WHERE usuario_id = $1
			ORDER BY criado_em DESC
			LIMIT $2 OFFSET $3`, *ownerID, limit, offset)
	} else {
		rows, err = txn.Executor(ctx, r.db).QueryContext(ctx, `
			SELECT `+accountColumns+`
			FROM contas.contas_bancarias
			ORDER BY criado_em DESC
			LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		log.WithError(err).Error("Failed to list accounts")
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			log.WithError(err).Error("Failed to scan account row")
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, *account)
	}

	return accounts, rows.Err()
}

func (r *postgresAccountRepository) ListByUser(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Account, error) {
	return r.List(ctx, &ownerID, limit, offset)
}

func (r *postgresAccountRepository) Update(ctx context.Context, account *domain.Account, before domain.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	account.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE contas.contas_bancarias SET
			numero_conta = $1,
			saldo = $2,
			tipo = $3,
			ativa = $4,
			atualizado_em = $5
		WHERE id = $6
	`

	result, err := txn.Executor(ctx, r.db).ExecContext(ctx, query,
		account.Number,
		account.Balance,
		string(account.Type),
		account.Active,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAccountNumberExists
		}
		log.WithError(err).WithField("account_id", account.ID).Error("Failed to update account")
		return fmt.Errorf("failed to update account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not determine rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrAccountNotFound
	}

	return r.hook.OnUpdate(ctx, account, before, account.Snapshot())
}

func (r *postgresAccountRepository) Delete(ctx context.Context, account *domain.Account) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithField("account_id", account.ID).Info("Deleting account")

	result, err := txn.Executor(ctx, r.db).ExecContext(ctx, `DELETE FROM contas.contas_bancarias WHERE id = $1`, account.ID)
	if err != nil {
		log.WithError(err).WithField("account_id", account.ID).Error("Failed to delete account")
		return fmt.Errorf("failed to delete account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not determine rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrAccountNotFound
	}

	return r.hook.OnDelete(ctx, account, account.Snapshot())
}
