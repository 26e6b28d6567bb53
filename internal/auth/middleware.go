package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const SubjectKey contextKey = "admin_subject"

// HeaderAdminSecret carries the shared admin secret.
const HeaderAdminSecret = "X-Admin-Secret"

// Middleware admits a request carrying the admin secret in X-Admin-Secret, or
// a bearer credential that is either a valid admin token or the secret itself.
func (a *Admin) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.CheckSecret(c.Request().Header.Get(HeaderAdminSecret)) {
			c.Set(string(SubjectKey), "secret")
			return next(c)
		}

		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			credential := strings.TrimSpace(authHeader[7:])
			if sub, err := a.VerifyToken(credential); err == nil {
				c.Set(string(SubjectKey), sub)
				return next(c)
			}
			if a.CheckSecret(credential) {
				c.Set(string(SubjectKey), "secret")
				return next(c)
			}
		}

		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

// SubjectFromContext returns who passed the admin check, or "".
func SubjectFromContext(c echo.Context) string {
	sub, _ := c.Get(string(SubjectKey)).(string)
	return sub
}
