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
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const queryTimeout = 5 * time.Second

const uniqueViolation = "23505"

// MutationHook receives the lifecycle callbacks fired by the repositories,
// inside the business transaction that performed the write.
type MutationHook interface {
	OnInsert(ctx context.Context, entity domain.Auditable, state domain.Snapshot) error
	OnUpdate(ctx context.Context, entity domain.Auditable, oldState, newState domain.Snapshot) error
	OnDelete(ctx context.Context, entity domain.Auditable, state domain.Snapshot) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type postgresUserRepository struct {
	db   *sql.DB
	hook MutationHook
}

func NewPostgresUserRepository(db *sql.DB, hook MutationHook) *postgresUserRepository {
	return &postgresUserRepository{db: db, hook: hook}
}

const userColumns = `id, nome, email, senha_hash, ativo, criado_em, atualizado_em`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Accounts = domain.NewAccountSet(user.ID)
	return &user, nil
}

func (r *postgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithFields(log.Fields{
		"user_id": user.ID,
		"email":   user.Email,
	}).Info("Creating new user in database")

	query := `
		INSERT INTO contas.usuarios (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := txn.Executor(ctx, r.db).ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Active,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailAlreadyExists
		}
		log.WithError(err).WithField("user_id", user.ID).Error("Failed to create user")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return r.hook.OnInsert(ctx, user, user.Snapshot())
}

func (r *postgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM contas.usuarios WHERE id = $1`, id)
}

// LockByID reads the user with a row lock held until the surrounding
// transaction ends.
func (r *postgresUserRepository) LockByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM contas.usuarios WHERE id = $1 FOR UPDATE`, id)
}

func (r *postgresUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM contas.usuarios WHERE lower(email) = lower($1)`, email)
}

func (r *postgresUserRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	user, err := scanUser(txn.Executor(ctx, r.db).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		log.WithError(err).WithField("lookup", arg).Error("Failed to get user")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *postgresUserRepository) Update(ctx context.Context, user *domain.User, before domain.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE contas.usuarios SET
			nome = $1,
			email = $2,
			senha_hash = $3,
			ativo = $4,
			atualizado_em = $5
		WHERE id = $6
	`

	result, err := txn.Executor(ctx, r.db).ExecContext(ctx, query,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Active,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailAlreadyExists
		}
		log.WithError(err).WithField("user_id", user.ID).Error("Failed to update user")
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not determine rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrUserNotFound
	}

	log.WithField("user_id", user.ID).Info("User successfully updated")
	return r.hook.OnUpdate(ctx, user, before, user.Snapshot())
}

func (r *postgresUserRepository) Delete(ctx context.Context, user *domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithField("user_id", user.ID).Info("Deleting user from database")

	result, err := txn.Executor(ctx, r.db).ExecContext(ctx, `DELETE FROM contas.usuarios WHERE id = $1`, user.ID)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("Failed to delete user")
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not determine rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrUserNotFound
	}

	return r.hook.OnDelete(ctx, user, user.Snapshot())
}

func (r *postgresUserRepository) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT ` + userColumns + `
		FROM contas.usuarios
		ORDER BY criado_em DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := txn.Executor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		log.WithError(err).Error("Failed to list users")
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			log.WithError(err).Error("Failed to scan user row")
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		log.WithError(err).Error("Error iterating over user rows")
		return nil, fmt.Errorf("error iterating over user rows: %w", err)
	}

	return users, nil
}
