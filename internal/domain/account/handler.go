package account

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carevault/carevault/internal/platform/auth"
	"github.com/carevault/carevault/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the protected account and role endpoints. The login
// endpoint is registered separately via RegisterAuthRoutes because it must
// sit outside the authenticated group.
func (h *Handler) RegisterRoutes(api *echo.Group, az *auth.Authorizer) {
	api.GET("/accounts", h.ListAccounts, az.RequirePrivilege(auth.PrivAccountView))
	api.GET("/accounts/:id", h.GetAccount, az.RequirePrivilege(auth.PrivAccountView))
	api.POST("/accounts", h.CreateAccount, az.RequirePrivilege(auth.PrivAccountManage))
	api.PUT("/accounts/:id", h.UpdateAccount, az.RequirePrivilege(auth.PrivAccountManage))
	api.DELETE("/accounts/:id", h.DeleteAccount, az.RequirePrivilege(auth.PrivAccountManage))

	api.GET("/roles", h.ListRoles, az.RequirePrivilege(auth.PrivRoleView))
	api.GET("/roles/:id", h.GetRole, az.RequirePrivilege(auth.PrivRoleView))
	api.POST("/roles", h.CreateRole, az.RequirePrivilege(auth.PrivRoleManage))
	api.PUT("/roles/:id", h.UpdateRole, az.RequirePrivilege(auth.PrivRoleManage))
	api.DELETE("/roles/:id", h.DeleteRole, az.RequirePrivilege(auth.PrivRoleManage))
	api.GET("/roles/:id/privileges", h.RolePrivileges, az.RequirePrivilege(auth.PrivRoleView))
	api.PUT("/roles/:id/privileges", h.ReplacePrivileges, az.RequirePrivilege(auth.PrivRoleManage))

	api.GET("/privileges", h.ListPrivileges, az.RequirePrivilege(auth.PrivRoleView))
}

func (h *Handler) RegisterAuthRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)
}

// -- Accounts --

type accountRequest struct {
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Status    string     `json:"status"`
	RoleID    *uuid.UUID `json:"role_id"`
	IsAdmin   bool       `json:"is_admin"`
	Password  string     `json:"password"`
}

func (h *Handler) CreateAccount(c echo.Context) error {
	var req accountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	a := &Account{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Status:    req.Status,
		RoleID:    req.RoleID,
		IsAdmin:   req.IsAdmin,
	}
	actor := auth.PrincipalFromContext(c.Request().Context())
	if err := h.svc.CreateAccount(c.Request().Context(), actor, a, req.Password); err != nil {
		return accountError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	a, err := h.svc.GetAccount(c.Request().Context(), id)
	if err != nil {
		return accountError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAccounts(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := ListFilter{
		Search: c.QueryParam("search"),
		Status: c.QueryParam("status"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	}
	if role := c.QueryParam("role_id"); role != "" {
		id, err := uuid.Parse(role)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid role_id"})
		}
		filter.RoleID = &id
	}
	accounts, total, err := h.svc.ListAccounts(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(accounts, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateAccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req accountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	a := &Account{
		ID:        id,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Status:    req.Status,
		RoleID:    req.RoleID,
		IsAdmin:   req.IsAdmin,
	}
	actor := auth.PrincipalFromContext(c.Request().Context())
	if err := h.svc.UpdateAccount(c.Request().Context(), actor, a, req.Password); err != nil {
		return accountError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	actor := auth.PrincipalFromContext(c.Request().Context())
	if err := h.svc.DeleteAccount(c.Request().Context(), actor, id); err != nil {
		return accountError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Roles --

func (h *Handler) CreateRole(c echo.Context) error {
	var r Role
	if err := c.Bind(&r); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	// System roles ship with migrations, never through the API.
	r.IsSystemRole = false
	actor := auth.PrincipalFromContext(c.Request().Context())
	if err := h.svc.CreateRole(c.Request().Context(), actor, &r); err != nil {
		return accountError(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	r, err := h.svc.GetRole(c.Request().Context(), id)
	if err != nil {
		return accountError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRoles(c echo.Context) error {
	roles, err := h.svc.ListRoles(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, roles)
}

func (h *Handler) UpdateRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var r Role
	if err := c.Bind(&r); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	r.ID = id
	actor := auth.PrincipalFromContext(c.Request().Context())
	if err := h.svc.UpdateRole(c.Request().Context(), actor, &r); err != nil {
		return accountError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	actor := auth.PrincipalFromContext(c.Request().Context())
	if err := h.svc.DeleteRole(c.Request().Context(), actor, id); err != nil {
		return accountError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPrivileges(c echo.Context) error {
	privs, err := h.svc.ListPrivileges(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, privs)
}

func (h *Handler) RolePrivileges(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	privs, err := h.svc.RolePrivileges(c.Request().Context(), id)
	if err != nil {
		return accountError(c, err)
	}
	return c.JSON(http.StatusOK, privs)
}

type replacePrivilegesRequest struct {
	PrivilegeIDs []uuid.UUID `json:"privilege_ids"`
}

func (h *Handler) ReplacePrivileges(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req replacePrivilegesRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	actor := auth.PrincipalFromContext(c.Request().Context())
	if err := h.svc.ReplacePrivileges(c.Request().Context(), actor, id, req.PrivilegeIDs); err != nil {
		return accountError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Login --

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	token, a, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid credentials"})
	case errors.Is(err, ErrAccountInactive):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Account is suspended or inactive"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"token": token, "account": a})
}

func accountError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, ErrEmailTaken):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, ErrSystemRole), errors.Is(err, ErrRoleInUse):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
}
