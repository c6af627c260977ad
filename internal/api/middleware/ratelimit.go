package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/cfolink/internal/api/auth"
)

const staleAfter = 10 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitPerUser bounds how many requests each authenticated user may
// make per minute on the routes it guards. Unauthenticated requests pass
// through; the auth middleware rejects those on its own.
func RateLimitPerUser(perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}

	var mu sync.Mutex
	limiters := make(map[string]*userLimiter)
	burst := perMinute/4 + 1

	get := func(userID string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		if len(limiters) > 10000 {
			for id, ul := range limiters {
				if time.Since(ul.lastSeen) > staleAfter {
					delete(limiters, id)
				}
			}
		}

		ul, ok := limiters[userID]
		if !ok {
			ul = &userLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)}
			limiters[userID] = ul
		}
		ul.lastSeen = time.Now()
		return ul.limiter
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity := auth.GetIdentity(c)
			if identity == nil {
				return next(c)
			}
			if !get(identity.UserID).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "Sending too fast, slow down")
			}
			return next(c)
		}
	}
}
