package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
)

// Middleware enforces the named tier keyed by client IP. It must run after
// chi's RealIP so RemoteAddr reflects the caller.
func (l *Limiter) Middleware(tierName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := l.Allow(r.Context(), tierName, clientKey(r))
			if err != nil {
				// Store outages must not take the API down with them.
				l.logger.WithContext(r.Context()).Warn().
					Err(err).
					Str("tier", tierName).
					Msg("Rate limit check failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			h.Set("RateLimit-Reset", strconv.Itoa(decision.ResetSeconds()))

			if !decision.Allowed {
				tier, _ := l.Tier(tierName)
				l.logger.WithContext(r.Context()).Info().
					Str("tier", tierName).
					Str("client", clientKey(r)).
					Msg("Rate limit exceeded")

				h.Set("Retry-After", strconv.Itoa(decision.ResetSeconds()))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"message": tier.Message,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
