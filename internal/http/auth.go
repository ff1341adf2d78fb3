package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	httpmiddleware "github.com/otenielpinto/mdfe/internal/http/middleware"
	"github.com/otenielpinto/mdfe/internal/usuario"
)

// Login autentica por e-mail e senha.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
		Senha string `json:"senha"`
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "JSON inválido", nil)
		return
	}
	if strings.TrimSpace(payload.Email) == "" || strings.TrimSpace(payload.Senha) == "" {
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "email e senha são obrigatórios", nil)
		return
	}

	result, err := h.usuarios.Login(r.Context(), payload.Email, payload.Senha)
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, "login realizado", result)
}

// Me retorna o usuário autenticado.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(httpmiddleware.GetSubject(r.Context()))
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "subject inválido", nil)
		return
	}

	u, err := h.usuarios.Me(r.Context(), id)
	if err != nil {
		if errors.Is(err, usuario.ErrNotFound) {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "usuário não encontrado", nil)
			return
		}
		h.logger.Error().Err(err).Msg("me: falha ao carregar usuário")
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "não foi possível carregar perfil", nil)
		return
	}

	WriteJSON(w, http.StatusOK, "", u)
}

// ListUsuarios lista os usuários da empresa do token.
func (h *Handler) ListUsuarios(w http.ResponseWriter, r *http.Request) {
	tenantID, empresaID, ok := scope(w, r)
	if !ok {
		return
	}
	list, err := h.usuarios.List(r.Context(), tenantID, empresaID)
	if err != nil {
		h.logger.Error().Err(err).Msg("listar usuários")
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "não foi possível listar usuários", nil)
		return
	}
	if list == nil {
		list = []usuario.Usuario{}
	}
	WriteJSON(w, http.StatusOK, "", list)
}

// CreateUsuario cadastra um usuário na mesma empresa de quem chama.
func (h *Handler) CreateUsuario(w http.ResponseWriter, r *http.Request) {
	tenantID, empresaID, ok := scope(w, r)
	if !ok {
		return
	}

	var payload struct {
		Nome   string   `json:"nome"`
		Email  string   `json:"email"`
		Senha  string   `json:"senha"`
		Papeis []string `json:"papeis"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "JSON inválido", nil)
		return
	}

	created, err := h.usuarios.Create(r.Context(), usuario.CreateInput{
		TenantID:  tenantID,
		EmpresaID: empresaID,
		Nome:      payload.Nome,
		Email:     payload.Email,
		Senha:     payload.Senha,
		Papeis:    payload.Papeis,
	})
	if err != nil {
		if errors.Is(err, usuario.ErrEmailInUse) {
			WriteError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
			return
		}
		WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	WriteJSON(w, http.StatusCreated, "usuário criado", created)
}

func (h *Handler) handleAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usuario.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	case errors.Is(err, usuario.ErrAccountDisabled):
		WriteError(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	default:
		h.logger.Error().Err(err).Msg("login: erro inesperado")
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "erro ao autenticar", nil)
	}
}

func scope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	tenantID, err1 := uuid.Parse(httpmiddleware.GetTenant(r.Context()))
	empresaID, err2 := uuid.Parse(httpmiddleware.GetEmpresa(r.Context()))
	if err1 != nil || err2 != nil {
		WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "tenant não identificado", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, empresaID, true
}
