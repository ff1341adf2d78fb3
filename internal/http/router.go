package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/otenielpinto/mdfe/internal/config"
	httpmiddleware "github.com/otenielpinto/mdfe/internal/http/middleware"
	"github.com/otenielpinto/mdfe/internal/mdfe"
	"github.com/otenielpinto/mdfe/internal/monitor"
	"github.com/otenielpinto/mdfe/internal/usuario"
)

// Handler reúne as rotas de infraestrutura e autenticação.
type Handler struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	redis    *redis.Client
	usuarios *usuario.Service
	monitor  *monitor.Service
	logger   zerolog.Logger

	publicLimiter  *httpmiddleware.RateLimiter
	authLimiter    *httpmiddleware.RateLimiter
	empresaLimiter *httpmiddleware.RateLimiter
}

// NewRouter devolve roteador configurado.
func NewRouter(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, usuarios *usuario.Service, mdfeHandler *mdfe.Handler, monitorService *monitor.Service, logger zerolog.Logger) http.Handler {
	h := &Handler{
		cfg:            cfg,
		pool:           pool,
		redis:          redisClient,
		usuarios:       usuarios,
		monitor:        monitorService,
		logger:         logger,
		publicLimiter:  httpmiddleware.NewRateLimiter(cfg.RateLimitPublic.RequestsPerSecond, cfg.RateLimitPublic.Burst),
		authLimiter:    httpmiddleware.NewRateLimiter(cfg.RateLimitAuth.RequestsPerSecond, cfg.RateLimitAuth.Burst),
		empresaLimiter: httpmiddleware.NewRateLimiter(cfg.RateLimitEmpresa.RequestsPerSecond, cfg.RateLimitEmpresa.Burst),
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpmiddleware.Logging(logger))
	r.Use(httpmiddleware.Recover(logger))
	r.Use(httpmiddleware.CORS(cfg.AllowOrigins))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Group(func(public chi.Router) {
		public.Use(httpmiddleware.IPRateLimit(h.publicLimiter))
		public.Post("/auth/login", h.Login)
	})

	r.Group(func(private chi.Router) {
		private.Use(httpmiddleware.Auth(usuarios.JWT()))
		private.Use(httpmiddleware.RequireTenant)
		private.Use(httpmiddleware.UserRateLimit(h.authLimiter))

		private.Get("/me", h.Me)
		private.Route("/usuarios", func(u chi.Router) {
			u.Use(httpmiddleware.RequireRoles("ADMIN"))
			u.Get("/", h.ListUsuarios)
			u.Post("/", h.CreateUsuario)
		})
		private.With(httpmiddleware.RequireRoles("ADMIN")).Get("/monitor/sefaz", h.MonitorSefaz)
		private.With(httpmiddleware.RequireRoles("ADMIN")).Get("/monitor/sefaz/{uf}/historico", h.MonitorSefazHistorico)

		private.Group(func(fiscal chi.Router) {
			fiscal.Use(httpmiddleware.EmpresaRateLimit(h.empresaLimiter))
			mdfe.Mount(fiscal, mdfeHandler)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "rota não encontrada", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "método não permitido", nil)
	})

	return r
}

// Health responde status simples.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, "", map[string]string{"status": "ok"})
}

// Ready valida conexões com Postgres e Redis.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var dbErr, redisErr error
	if h.pool != nil {
		dbErr = h.pool.Ping(ctx)
	}
	if h.redis != nil {
		redisErr = h.redis.Ping(ctx).Err()
	}

	if dbErr != nil || redisErr != nil {
		WriteError(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "dependências indisponíveis", map[string]any{
			"db":    errorString(dbErr),
			"redis": errorString(redisErr),
		})
		return
	}

	WriteJSON(w, http.StatusOK, "", map[string]bool{"ready": true})
}

// MonitorSefaz expõe a última leitura de status por UF.
func (h *Handler) MonitorSefaz(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		WriteJSON(w, http.StatusOK, "monitor desabilitado", []monitor.Health{})
		return
	}
	WriteJSON(w, http.StatusOK, "", h.monitor.Summaries())
}

// MonitorSefazHistorico lista as verificações gravadas de uma UF (?limite=, padrão 100).
func (h *Handler) MonitorSefazHistorico(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		WriteJSON(w, http.StatusOK, "monitor desabilitado", []monitor.Health{})
		return
	}
	limite := 0
	if raw := r.URL.Query().Get("limite"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limite inválido", map[string]any{"campo": "limite"})
			return
		}
		limite = n
	}
	history, err := h.monitor.History(r.Context(), chi.URLParam(r, "uf"), limite)
	if err != nil {
		h.logger.Error().Err(err).Msg("monitor: falha ao ler histórico")
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "falha ao ler histórico", nil)
		return
	}
	WriteJSON(w, http.StatusOK, "", history)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
