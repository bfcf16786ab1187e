package server

import (
	"crypto/subtle"

	"accounts-service/internal/actor"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
)

const HeaderCorrelationID = "X-Correlation-Id"

const (
	correlationKey = "correlation_id"
	userKey        = "user_id"
)

// maxCorrelationIDLength matches the correlation_id column of the audit log.
const maxCorrelationIDLength = 100

func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// CorrelationID takes the correlation id from the request header and echoes
// it on the response. A missing, oversized or non-printable id is replaced
// by a generated one.
func CorrelationID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(HeaderCorrelationID)
			if !validCorrelationID(id) {
				if id != "" {
					log.WithField("length", len(id)).Warn("Rejected client correlation id, generating a new one")
				}
				id = uuid.NewString()
			}
			c.Set(correlationKey, id)
			c.Response().Header().Set(HeaderCorrelationID, id)
			return next(c)
		}
	}
}

// BasicAuth checks credentials against the configured users and remembers
// the authenticated user name for the actor scope.
func BasicAuth(users map[string]string) echo.MiddlewareFunc {
	return middleware.BasicAuth(func(username, password string, c echo.Context) (bool, error) {
		expected, ok := users[username]
		if !ok || subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 {
			return false, nil
		}
		c.Set(userKey, username)
		return true, nil
	})
}

// ActorScope opens the actor scope for the request and releases it when the
// handler returns, including on error and panic.
func ActorScope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username, _ := c.Get(userKey).(string)
			correlationID, _ := c.Get(correlationKey).(string)

			ctx, release := actor.Begin(c.Request().Context(), username, correlationID)
			defer release()

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func RequestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogMethod:   true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := log.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			}
			if id, ok := c.Get(correlationKey).(string); ok {
				fields[correlationKey] = id
			}
			if user, ok := c.Get(userKey).(string); ok {
				fields[userKey] = user
			}
			if v.Error != nil {
				log.WithFields(fields).WithError(v.Error).Error("Request failed")
				return nil
			}
			log.WithFields(fields).Info("Request handled")
			return nil
		},
	})
}
