package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/timebank/timebank-api/internal/pkg/logger"
	"github.com/timebank/timebank-api/internal/pkg/response"
)

// Recover turns a handler panic into a 500. http.ErrAbortHandler is re-raised so the server
// can drop the connection.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			logger.FromContext(r.Context()).Error().
				Interface("error", err).
				Str("stack", string(debug.Stack())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("member_id", GetMemberID(r.Context()).String()).
				Msg("Panic recovered")

			response.InternalError(w)
		}()

		next.ServeHTTP(w, r)
	})
}
