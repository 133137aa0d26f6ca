package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/threadline/settlement-backend/api/responses"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
	"github.com/threadline/settlement-backend/pkg/logger"
	pkgredis "github.com/threadline/settlement-backend/pkg/redis"
)

// RateLimitPolicy bounds how many requests one caller may make per window.
type RateLimitPolicy struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// RateLimit applies a fixed-window limit keyed by policy name and caller.
// Anonymous requests are keyed by client IP.
func RateLimit(limiter pkgredis.RateLimiter, policy RateLimitPolicy, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || policy.Limit <= 0 || policy.Window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := UserIDFromContext(r.Context())
			if subject == "" {
				subject = "ip:" + ClientIP(r)
			}
			allowed, count, err := limiter.FixedWindowAllow(r.Context(), policy.Name+":"+subject, policy.Limit, policy.Window)
			if err != nil {
				// fail open when redis is unavailable
				if logg != nil {
					logg.Error(r.Context(), "rate_limit.check_failed", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(policy.Window.Seconds())))
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests").
					WithDetails(map[string]any{"policy": policy.Name, "count": count, "limit": policy.Limit}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
