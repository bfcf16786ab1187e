package server

import (
	"errors"
	"net/http"
	"time"

	"accounts-service/internal/domain"
	"accounts-service/internal/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var errUnknownEntity = errors.New("unknown entity name")

type auditServer struct {
	auditService service.AuditServiceInterface
}

func NewAuditServer(auditService service.AuditServiceInterface) *auditServer {
	return &auditServer{auditService: auditService}
}

func auditRecords(events []*domain.MutationEvent) []domain.AuditRecord {
	out := make([]domain.AuditRecord, 0, len(events))
	for _, e := range events {
		out = append(out, e.Record())
	}
	return out
}

func optional(c echo.Context, name string) *string {
	if v := c.QueryParam(name); v != "" {
		return &v
	}
	return nil
}

func optionalTime(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseAuditFilter reads the ledger query from the query string.
func parseAuditFilter(c echo.Context) (domain.AuditFilter, error) {
	var filter domain.AuditFilter
	filter.Limit, filter.Offset = paging(c)

	if v := optional(c, "operation"); v != nil {
		op, err := domain.ParseOperation(*v)
		if err != nil {
			return filter, err
		}
		filter.Operation = &op
	}
	if v := optional(c, "entityName"); v != nil {
		kind := domain.EntityKind(*v)
		if !kind.Valid() {
			return filter, errUnknownEntity
		}
		filter.EntityName = &kind
	}
	if v := optional(c, "entityId"); v != nil {
		id, err := uuid.Parse(*v)
		if err != nil {
			return filter, err
		}
		filter.EntityID = &id
	}
	filter.UserID = optional(c, "userId")
	filter.CorrelationID = optional(c, "correlationId")

	var err error
	if filter.From, err = optionalTime(c, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = optionalTime(c, "to"); err != nil {
		return filter, err
	}
	return filter, nil
}

func (s *auditServer) ListEvents(c echo.Context) error {
	filter, err := parseAuditFilter(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid audit filter",
		})
	}

	events, err := s.auditService.ListEvents(c.Request().Context(), filter)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"eventos": auditRecords(events),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (s *auditServer) GetEvent(c echo.Context) error {
	event, err := s.auditService.GetEvent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, event.Record())
}

func (s *auditServer) ListUnpublished(c echo.Context) error {
	limit, _ := paging(c)

	events, err := s.auditService.ListUnpublished(c.Request().Context(), limit)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"eventos": auditRecords(events),
	})
}
