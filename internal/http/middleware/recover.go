package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Recover converte panic em 500 INTERNAL_ERROR com o envelope padrão.
func Recover(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error().
						Interface("panic", rec).
						Str("request_id", middleware.GetReqID(r.Context())).
						Str("path", r.URL.Path).
						Bytes("stack", debug.Stack()).
						Msg("panic recuperado")
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "erro interno")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
