package mdfe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	httpmiddleware "github.com/otenielpinto/mdfe/internal/http/middleware"
)

const maxBodyBytes = 1 << 20

// Handler expõe as operações fiscais e o CRUD de documentos.
type Handler struct {
	service *Service
	logger  zerolog.Logger
}

func NewHandler(service *Service, logger zerolog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sefaz", func(r chi.Router) {
		r.Post("/envio", h.handleEnvio)
		r.Post("/cancelamento", h.handleCancelamento)
		r.Post("/encerramento", h.handleEncerramento)
		r.Post("/consulta", h.handleConsulta)
		r.Get("/status", h.handleStatusServico)
	})

	r.Route("/mdfes", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Get("/{id}/eventos", h.handleListEventos)
	})
}

type mdfeIDRequest struct {
	MdfeID string `json:"mdfeId"`
}

type cancelamentoRequest struct {
	MdfeID        string `json:"mdfeId"`
	Justificativa string `json:"justificativa"`
	NSeqEvento    int    `json:"nSeqEvento"`
}

type encerramentoRequest struct {
	MdfeID                string          `json:"mdfeId"`
	UFEncerramento        string          `json:"ufEncerramento"`
	MunicipioEncerramento string          `json:"municipioEncerramento"`
	CodigoMunicipio       json.RawMessage `json:"codigoMunicipio"`
	DataEncerramento      string          `json:"dataEncerramento"`
	NSeqEvento            int             `json:"nSeqEvento"`
}

func (h *Handler) handleEnvio(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	u, derr := usuarioFromContext(r.Context())
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	var req mdfeIDRequest
	if derr := decodeBody(r, w, &req); derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}
	id, derr := parseMdfeID(req.MdfeID)
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	// A chamada ao gateway e a auditoria seguem mesmo se o cliente desconectar.
	ctx := context.WithoutCancel(r.Context())
	out, err := h.service.Enviar(ctx, u, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.logRequest(r, "POST /sefaz/envio", u, start)
	status := http.StatusOK
	if out.Status == StatusPendente {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out.Message, out)
}

func (h *Handler) handleCancelamento(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	u, derr := usuarioFromContext(r.Context())
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	var req cancelamentoRequest
	if derr := decodeBody(r, w, &req); derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}
	id, derr := parseMdfeID(req.MdfeID)
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}
	if strings.TrimSpace(req.Justificativa) == "" {
		h.writeDomainError(w, r, newError(KindValidation, "justificativa obrigatória", map[string]any{"campo": "justificativa"}))
		return
	}
	if req.NSeqEvento < 0 {
		h.writeDomainError(w, r, newError(KindValidation, "nSeqEvento inválido", map[string]any{"campo": "nSeqEvento"}))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	out, err := h.service.Cancelar(ctx, u, CancelamentoInput{
		MdfeID:        id,
		Justificativa: req.Justificativa,
		NSeqEvento:    req.NSeqEvento,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.logRequest(r, "POST /sefaz/cancelamento", u, start)
	writeJSON(w, http.StatusOK, out.Message, out)
}

func (h *Handler) handleEncerramento(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	u, derr := usuarioFromContext(r.Context())
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	var req encerramentoRequest
	if derr := decodeBody(r, w, &req); derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}
	id, derr := parseMdfeID(req.MdfeID)
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}
	codigo, derr := parseCodigoMunicipio(req.CodigoMunicipio)
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}
	if strings.TrimSpace(req.UFEncerramento) == "" {
		h.writeDomainError(w, r, newError(KindValidation, "ufEncerramento obrigatória", map[string]any{"campo": "ufEncerramento"}))
		return
	}
	if req.NSeqEvento < 0 {
		h.writeDomainError(w, r, newError(KindValidation, "nSeqEvento inválido", map[string]any{"campo": "nSeqEvento"}))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	out, err := h.service.Encerrar(ctx, u, EncerramentoInput{
		MdfeID:                id,
		UFEncerramento:        req.UFEncerramento,
		MunicipioEncerramento: req.MunicipioEncerramento,
		CodigoMunicipio:       codigo,
		DataEncerramento:      req.DataEncerramento,
		NSeqEvento:            req.NSeqEvento,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.logRequest(r, "POST /sefaz/encerramento", u, start)
	writeJSON(w, http.StatusOK, out.Message, out)
}

func (h *Handler) handleConsulta(w http.ResponseWriter, r *http.Request) {
	u, derr := usuarioFromContext(r.Context())
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	var req mdfeIDRequest
	if derr := decodeBody(r, w, &req); derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}
	id, derr := parseMdfeID(req.MdfeID)
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	out, err := h.service.Consultar(context.WithoutCancel(r.Context()), u, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out.Message, out)
}

func (h *Handler) handleStatusServico(w http.ResponseWriter, r *http.Request) {
	u, derr := usuarioFromContext(r.Context())
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	uf := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("uf")))
	resp, err := h.service.ServicoStatus(r.Context(), u, uf)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.XMotivo, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	u, derr := usuarioFromContext(r.Context())
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	f := Filtro{Status: Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.writeDomainError(w, r, newError(KindValidation, "limit inválido", map[string]any{"campo": "limit"}))
			return
		}
		f.Limit = limit
	}

	docs, err := h.service.List(r.Context(), u, f)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "", docs)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	u, derr := usuarioFromContext(r.Context())
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	var sec Secoes
	if derr := decodeBody(r, w, &sec); derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	doc, err := h.service.Create(r.Context(), u, sec)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, "MDF-e criado", doc)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	u, derr := usuarioFromContext(r.Context())
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}
	id, derr := parseMdfeID(chi.URLParam(r, "id"))
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	doc, err := h.service.Get(r.Context(), u, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "", doc)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	u, derr := usuarioFromContext(r.Context())
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}
	id, derr := parseMdfeID(chi.URLParam(r, "id"))
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	var sec Secoes
	if derr := decodeBody(r, w, &sec); derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	doc, err := h.service.Update(r.Context(), u, id, sec)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "MDF-e atualizado", doc)
}

func (h *Handler) handleListEventos(w http.ResponseWriter, r *http.Request) {
	u, derr := usuarioFromContext(r.Context())
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}
	id, derr := parseMdfeID(chi.URLParam(r, "id"))
	if derr != nil {
		h.writeDomainError(w, r, derr)
		return
	}

	eventos, err := h.service.ListEventos(r.Context(), u, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "", eventos)
}

func usuarioFromContext(ctx context.Context) (Usuario, *Error) {
	unauthorized := newError(KindUnauthorized, "usuário não autenticado", nil)

	subject, err := uuid.Parse(httpmiddleware.GetSubject(ctx))
	if err != nil {
		return Usuario{}, unauthorized
	}
	tenant, err := uuid.Parse(httpmiddleware.GetTenant(ctx))
	if err != nil {
		return Usuario{}, newError(KindUnauthorized, "tenant não identificado", nil)
	}
	empresa, err := uuid.Parse(httpmiddleware.GetEmpresa(ctx))
	if err != nil {
		return Usuario{}, newError(KindUnauthorized, "empresa não identificada", nil)
	}
	return Usuario{ID: subject, TenantID: tenant, EmpresaID: empresa}, nil
}

func decodeBody(r *http.Request, w http.ResponseWriter, dst any) *Error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return newError(KindValidation, "corpo da requisição vazio", nil)
		}
		return newError(KindValidation, "payload inválido", map[string]any{"cause": err.Error()})
	}
	return nil
}

func parseMdfeID(raw string) (uuid.UUID, *Error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, newError(KindValidation, "mdfeId obrigatório", map[string]any{"campo": "mdfeId"})
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, newError(KindValidation, "mdfeId inválido", map[string]any{"campo": "mdfeId"})
	}
	return id, nil
}

// parseCodigoMunicipio aceita número ou string numérica.
func parseCodigoMunicipio(raw json.RawMessage) (int, *Error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `""` {
		return 0, nil
	}
	s = strings.Trim(s, `"`)
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || code < 0 {
		return 0, newError(KindValidation, "codigoMunicipio inválido", map[string]any{"campo": "codigoMunicipio"})
	}
	return code, nil
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	de := AsError(err)
	status := de.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Str("code", string(de.Kind)).
			Msg("mdfe request failed")
	}
	writeError(w, status, string(de.Kind), de.Message, de.Details)
}

func (h *Handler) logRequest(r *http.Request, label string, u Usuario, start time.Time) {
	h.logger.Info().
		Str("request_id", chimiddleware.GetReqID(r.Context())).
		Str("route", label).
		Str("usuario", u.ID.String()).
		Str("id_tenant", u.TenantID.String()).
		Dur("duration", time.Since(start)).
		Msg("mdfe request")
}

type envelope struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Data    any        `json:"data"`
	Error   *errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, message string, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Message: message, Data: payload})
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := &errorBody{Code: code, Message: message}
	if len(details) > 0 {
		body.Details = details
	}
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: message, Error: body})
}
