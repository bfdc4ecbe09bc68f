package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/pkg/response"
)

// CronSecretHeader carries the shared secret of the external scheduler.
const CronSecretHeader = "X-Cron-Secret"

// CronSecret guards job trigger endpoints. An empty secret disables them entirely.
func CronSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				response.Forbidden(w, "Cron triggers are disabled")
				return
			}
			got := r.Header.Get(CronSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				log.Warn().
					Str("path", r.URL.Path).
					Str("ip", getClientIP(r)).
					Msg("Rejected cron trigger with bad secret")
				response.Unauthorized(w, "Invalid cron secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
