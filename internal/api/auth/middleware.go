package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContextKey represents keys for context values
type ContextKey string

// IdentityContextKey is where RequireAuth stores the verified caller.
const IdentityContextKey ContextKey = "identity"

// RequireAuth creates authentication middleware that extracts and validates
// the bearer token and puts the caller's Identity on the request context.
// Websocket callers may pass the token as a `token` query parameter since
// browsers cannot set headers on upgrade requests.
func RequireAuth(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString := bearerToken(c)
			if tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization required")
			}

			identity, err := tokenService.ValidateToken(tokenString)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(IdentityContextKey), identity)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.QueryParam("token")
}

// GetIdentity returns the verified caller, or nil when the route is not
// behind RequireAuth.
func GetIdentity(c echo.Context) *Identity {
	identity, _ := c.Get(string(IdentityContextKey)).(*Identity)
	return identity
}

// MustGetIdentity returns the verified caller and panics if the middleware
// did not run. Handlers registered behind RequireAuth use this.
func MustGetIdentity(c echo.Context) *Identity {
	identity := GetIdentity(c)
	if identity == nil {
		panic("auth: identity missing from context; is RequireAuth installed?")
	}
	return identity
}
