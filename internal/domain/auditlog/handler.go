package auditlog

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carevault/carevault/internal/platform/auth"
	"github.com/carevault/carevault/internal/platform/middleware"
	"github.com/carevault/carevault/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, az *auth.Authorizer) {
	api.GET("/audit-logs", h.List, az.RequirePrivilege(auth.PrivAuditView))
	api.GET("/audit-logs/export", h.Export, az.RequirePrivilege(auth.PrivAuditExport))
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter, err := filterFromQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	filter.Limit = pg.Limit
	filter.Offset = pg.Offset

	actor := auth.PrincipalFromContext(c.Request().Context())
	entries, total, err := h.svc.Query(c.Request().Context(), actor, filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	// Reading the audit trail is itself an audited action; the access
	// middleware covers it, nothing extra to mark here.
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}

func (h *Handler) Export(c echo.Context) error {
	filter, err := filterFromQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	actor := auth.PrincipalFromContext(c.Request().Context())

	// Buffer the CSV so a refused export (audit write failure) can still
	// come back as a clean error response. The row cap keeps this bounded.
	var buf bytes.Buffer
	if _, err := h.svc.Export(c.Request().Context(), actor, filter, &buf); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}

	c.Set(middleware.AuditedKey, true)
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="audit-logs-%s.csv"`, time.Now().Format("2006-01-02")))
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}

func filterFromQuery(c echo.Context) (Filter, error) {
	filter := Filter{
		Tenant:     c.QueryParam("tenant"),
		Action:     c.QueryParam("action"),
		EntityType: c.QueryParam("entity_type"),
		EntityID:   c.QueryParam("entity_id"),
	}
	if actor := c.QueryParam("actor_id"); actor != "" {
		id, err := uuid.Parse(actor)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid actor_id")
		}
		filter.ActorID = &id
	}
	if from := c.QueryParam("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid from timestamp")
		}
		filter.From = t
	}
	if to := c.QueryParam("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid to timestamp")
		}
		filter.To = t
	}
	return filter, nil
}
