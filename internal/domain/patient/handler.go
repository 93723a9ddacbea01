package patient

import (
	"errors"
	"net/http"

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
	api.GET("/patients", h.List, az.RequirePrivilege(auth.PrivPatientView))
	api.GET("/patients/:id", h.Get, az.RequirePrivilege(auth.PrivPatientView))
	api.GET("/patients/mrn/:mrn", h.GetByMRN, az.RequirePrivilege(auth.PrivPatientView))
	api.POST("/patients", h.Create, az.RequirePrivilege(auth.PrivPatientCreate))
	api.PUT("/patients/:id", h.Update, az.RequirePrivilege(auth.PrivPatientUpdate))
	api.DELETE("/patients/:id", h.Delete, az.RequirePrivilege(auth.PrivPatientDelete))
}

func (h *Handler) Create(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	actor := auth.PrincipalFromContext(c.Request().Context())
	if err := h.svc.Create(c.Request().Context(), actor, &p); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	c.Set(middleware.AuditedKey, true)
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	actor := auth.PrincipalFromContext(c.Request().Context())
	p, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return patientError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetByMRN(c echo.Context) error {
	actor := auth.PrincipalFromContext(c.Request().Context())
	p, err := h.svc.GetByMRN(c.Request().Context(), actor, c.Param("mrn"))
	if err != nil {
		return patientError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := ListFilter{
		Search: c.QueryParam("search"),
		Status: c.QueryParam("status"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	}
	if assigned := c.QueryParam("assigned_to"); assigned != "" {
		id, err := uuid.Parse(assigned)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid assigned_to"})
		}
		filter.AssignedTo = &id
	}
	actor := auth.PrincipalFromContext(c.Request().Context())
	patients, total, err := h.svc.List(c.Request().Context(), actor, filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	p.ID = id
	actor := auth.PrincipalFromContext(c.Request().Context())
	if err := h.svc.Update(c.Request().Context(), actor, &p); err != nil {
		return patientError(c, err)
	}
	c.Set(middleware.AuditedKey, true)
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	actor := auth.PrincipalFromContext(c.Request().Context())
	if err := h.svc.Delete(c.Request().Context(), actor, id); err != nil {
		return patientError(c, err)
	}
	c.Set(middleware.AuditedKey, true)
	return c.NoContent(http.StatusNoContent)
}

// patientError maps service failures onto response codes. Out-of-scope
// records surface as 404 so an ASSIGNED-scope caller cannot probe for the
// existence of patients outside their panel.
func patientError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDenied):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "patient not found"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
}
