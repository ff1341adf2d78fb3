package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logging emite um evento http_request por requisição. Tenant e usuário entram
// quando a rota é autenticada.
func Logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			// Auth roda depois; o ponteiro permite ler a identidade no retorno.
			ident := &identitySlot{}
			next.ServeHTTP(ww, r.WithContext(withIdentitySlot(r.Context(), ident)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			event := logger.Info()
			if status >= http.StatusInternalServerError {
				event = logger.Error()
			}
			event = event.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("ip", realIPFromRequest(r))

			if reqID := middleware.GetReqID(r.Context()); reqID != "" {
				event = event.Str("request_id", reqID)
			}
			if ident.subject != "" {
				event = event.Str("usuario", ident.subject).Str("id_tenant", ident.tenant)
			}
			if ua := r.Header.Get("User-Agent"); ua != "" {
				event = event.Str("user_agent", ua)
			}

			event.Msg("http_request")
		})
	}
}
