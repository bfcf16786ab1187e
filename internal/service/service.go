package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"accounts-service/internal/audit"
	"accounts-service/internal/domain"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// unchanged reports whether an update leaves every persisted field as it was.
// Such updates are not written, so they touch no timestamp and leave no
// audit event.
func unchanged(before, after domain.Snapshot) bool {
	oldValues, err := audit.NormalizeSnapshot(&before)
	if err != nil {
		return false
	}
	newValues, err := audit.NormalizeSnapshot(&after)
	if err != nil {
		return false
	}
	return len(audit.ChangedFields(oldValues, newValues, before.Fields)) == 0
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Transactor runs fn inside a business transaction. Repository calls made
// with the context passed to fn join that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	LockByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context, limit, offset int) ([]domain.User, error)
	Update(ctx context.Context, user *domain.User, before domain.Snapshot) error
	Delete(ctx context.Context, user *domain.User) error
}

type UserServiceInterface interface {
	CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error)
	UpdateUser(ctx context.Context, id string, req domain.UpdateUserRequest) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error
}

type UserService struct {
	tx                Transactor
	userRepository    UserRepository
	accountRepository AccountRepository
}

func NewUserService(tx Transactor, userRepository UserRepository, accountRepository AccountRepository) *UserService {
	return &UserService{
		tx:                tx,
		userRepository:    userRepository,
		accountRepository: accountRepository,
	}
}

func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidUUID
	}
	return parsed, nil
}

func validateEmail(email string) error {
	if err := domain.ValidateEmailLength(email); err != nil {
		return err
	}
	if !emailRegex.MatchString(email) {
		return domain.ErrInvalidEmail
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *UserService) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)

	if err := domain.ValidateUserName(req.Name); err != nil {
		return nil, err
	}
	if err := validateEmail(req.Email); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	user.Accounts = domain.NewAccountSet(user.ID)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensureEmailAvailable(ctx, req.Email); err != nil {
			return err
		}
		return s.userRepository.Create(ctx, user)
	})
	if err != nil {
		log.WithError(err).WithField("email", req.Email).Error("Failed to create user")
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": user.ID,
		"email":   user.Email,
	}).Info("User successfully created")

	return user, nil
}

func (s *UserService) ensureEmailAvailable(ctx context.Context, email string) error {
	existing, err := s.userRepository.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}
	if existing != nil {
		return domain.ErrEmailAlreadyExists
	}
	return nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	userID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.userRepository.GetByID(ctx, userID)
}

func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	limit, offset = page(limit, offset)

	users, err := s.userRepository.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *UserService) UpdateUser(ctx context.Context, id string, req domain.UpdateUserRequest) (*domain.User, error) {
	userID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if err := domain.ValidateUserName(name); err != nil {
			return nil, err
		}
		req.Name = &name
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		req.Email = &email
	}
	var hash string
	if req.Password != nil {
		if err := domain.ValidatePassword(*req.Password); err != nil {
			return nil, err
		}
		if hash, err = hashPassword(*req.Password); err != nil {
			return nil, err
		}
	}

	var user *domain.User
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err = s.userRepository.LockByID(ctx, userID)
		if err != nil {
			return err
		}
		before := user.Snapshot()

		if req.Email != nil && !strings.EqualFold(*req.Email, user.Email) {
			if err := s.ensureEmailAvailable(ctx, *req.Email); err != nil {
				return err
			}
		}
		if req.Email != nil {
			user.Email = *req.Email
		}
		if req.Name != nil {
			user.Name = *req.Name
		}
		if req.Active != nil {
			user.Active = *req.Active
		}
		if hash != "" {
			user.PasswordHash = hash
		}

		if unchanged(before, user.Snapshot()) {
			return nil
		}
		return s.userRepository.Update(ctx, user, before)
	})
	if err != nil {
		log.WithError(err).WithField("user_id", id).Error("Failed to update user")
		return nil, err
	}

	log.WithField("user_id", id).Info("User successfully updated")
	return user, nil
}

// DeleteUser removes the user together with its accounts. Each account is
// deleted through the repository so every removal leaves its own record.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	userID, err := parseID(id)
	if err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.userRepository.LockByID(ctx, userID)
		if err != nil {
			return err
		}

		accounts, err := s.accountRepository.ListByUser(ctx, user.ID, math.MaxInt32, 0)
		if err != nil {
			return err
		}
		user.Accounts.Load(accounts)

		for i := range accounts {
			if err := s.accountRepository.Delete(ctx, &accounts[i]); err != nil {
				return err
			}
		}
		return s.userRepository.Delete(ctx, user)
	})
	if err != nil {
		log.WithError(err).WithField("user_id", id).Error("Failed to delete user")
		return err
	}

	log.WithField("user_id", id).Info("User successfully deleted")
	return nil
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 10
	}
	if limit > domain.MaxListLimit {
		limit = domain.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
