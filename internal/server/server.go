package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"accounts-service/internal/domain"
	"accounts-service/internal/service"

	log "github.com/sirupsen/logrus"

	"github.com/labstack/echo/v4"
)

type Server struct {
	userService service.UserServiceInterface
	db          *sql.DB
}

func NewServer(userService service.UserServiceInterface, db *sql.DB) *Server {
	return &Server{
		userService: userService,
		db:          db,
	}
}

// handleError maps domain errors to a status code and a client message.
func handleError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrAuditEventNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrEmailAlreadyExists),
		errors.Is(err, domain.ErrAccountNumberExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrAccountInactive):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrInvalidUUID),
		errors.Is(err, domain.ErrInvalidUserName),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrInvalidPassword),
		errors.Is(err, domain.ErrInvalidAccountNumber),
		errors.Is(err, domain.ErrInvalidAccountType),
		errors.Is(err, domain.ErrInvalidBalance),
		errors.Is(err, domain.ErrInvalidTransferAmount),
		errors.Is(err, domain.ErrSameAccountTransfer),
		errors.Is(err, domain.ErrOwnerNotFound):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func errorResponse(c echo.Context, err error) error {
	status, message := handleError(err)
	return c.JSON(status, map[string]string{
		"error": message,
	})
}

func paging(c echo.Context) (int, int) {
	limit := 10
	offset := 0
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 {
		limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

func (s *Server) HealthCheck(c echo.Context) error {
	if err := s.db.PingContext(c.Request().Context()); err != nil {
		log.WithField("error", err).Error("Health check failed: database is down")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "database connection error",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) CreateUser(c echo.Context) error {
	var req domain.CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	user, err := s.userService.CreateUser(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, user)
}

func (s *Server) GetUser(c echo.Context) error {
	id := c.Param("id")

	user, err := s.userService.GetUser(c.Request().Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			log.WithError(err).WithField("user_id", id).Error("Failed to get user")
		}
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, user)
}

func (s *Server) ListUsers(c echo.Context) error {
	limit, offset := paging(c)

	users, err := s.userService.ListUsers(c.Request().Context(), limit, offset)
	if err != nil {
		log.WithError(err).Error("Failed to list users")
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"usuarios": users,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) UpdateUser(c echo.Context) error {
	var req domain.UpdateUserRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	user, err := s.userService.UpdateUser(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, user)
}

func (s *Server) DeleteUser(c echo.Context) error {
	if err := s.userService.DeleteUser(c.Request().Context(), c.Param("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
