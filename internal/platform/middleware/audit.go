package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/carevault/carevault/internal/platform/auth"
	"github.com/carevault/carevault/internal/platform/db"
	"github.com/carevault/carevault/internal/platform/hipaa"
)

// AuditedKey marks a request whose handler already wrote a richer audit
// event. The middleware skips its generic event for those so one request
// never produces two rows.
const AuditedKey = "audit_recorded"

// AuditRecorder is the slice of the audit recorder this middleware needs.
type AuditRecorder interface {
	Enqueue(e *hipaa.Event)
}

// phiPrefixes are the route prefixes whose responses carry patient data.
// Requests outside them pass through unaudited.
var phiPrefixes = []string{
	"/api/v1/patients",
	"/api/v1/records",
	"/api/v1/audit-logs",
}

// PHIAccess returns middleware that records an access event for every
// request under a PHI route prefix. The event is built after the handler
// runs so the outcome reflects the real response status, and it is enqueued
// fire-and-forget: audit backpressure never slows a clinical read. Denials
// and mutations that need guaranteed persistence are written synchronously
// elsewhere; this middleware is the routine access trail.
func PHIAccess(recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !isPHIPath(path) {
				return next(c)
			}

			err := next(c)

			if done, _ := c.Get(AuditedKey).(bool); done {
				return err
			}
			status := c.Response().Status
			if status == 401 || status == 403 {
				// Refusals are recorded synchronously by the guards.
				return err
			}

			p := auth.PrincipalFromContext(c.Request().Context())
			event := &hipaa.Event{
				Tenant:     db.TenantFromContext(c.Request().Context()),
				Action:     actionFor(path, c.Request().Method),
				EntityType: entityFor(path),
				EntityID:   c.Param("id"),
				IPAddress:  c.RealIP(),
				UserAgent:  c.Request().UserAgent(),
				Detail: map[string]any{
					"method": c.Request().Method,
					"path":   path,
					"status": status,
				},
			}
			if rid, ok := c.Get("request_id").(string); ok {
				event.Detail["request_id"] = rid
			}
			if p != nil {
				actorID := p.ID
				event.ActorID = &actorID
				event.ActorName = p.Name
				event.ActorRole = p.Role
			}

			recorder.Enqueue(event)
			return err
		}
	}
}

func isPHIPath(path string) bool {
	for _, prefix := range phiPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// entityFor maps a PHI path to its entity name: /api/v1/patients/42 ->
// "patient".
func entityFor(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	seg, _, _ := strings.Cut(rest, "/")
	switch seg {
	case "patients":
		return "patient"
	case "records":
		return "record"
	case "audit-logs":
		return "audit_log"
	}
	return strings.TrimSuffix(seg, "s")
}

func actionFor(path, method string) string {
	entity := entityFor(path)
	switch method {
	case "POST":
		return entity + ".created"
	case "PUT", "PATCH":
		return entity + ".updated"
	case "DELETE":
		return entity + ".deleted"
	default:
		return entity + ".viewed"
	}
}
