package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/otenielpinto/mdfe/internal/auth"
)

type contextKey string

const (
	ContextKeySubject contextKey = "subject"
	ContextKeyTenant  contextKey = "id_tenant"
	ContextKeyEmpresa contextKey = "id_empresa"
	ContextKeyRoles   contextKey = "roles"

	contextKeySlot contextKey = "identity_slot"
)

// identitySlot leva a identidade de volta ao Logging, que roda antes do Auth.
type identitySlot struct {
	subject string
	tenant  string
}

func withIdentitySlot(ctx context.Context, slot *identitySlot) context.Context {
	return context.WithValue(ctx, contextKeySlot, slot)
}

// Auth valida JWT de acesso e injeta claims no contexto.
func Auth(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "token ausente")
				return
			}

			claims, err := jwtManager.ParseAndValidate(strings.TrimSpace(parts[1]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "token inválido")
				return
			}

			ctx := WithIdentity(r.Context(), claims.Subject, claims.TenantID, claims.EmpresaID, claims.Roles)
			if slot, ok := ctx.Value(contextKeySlot).(*identitySlot); ok {
				slot.subject, slot.tenant = claims.Subject, claims.TenantID
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity grava a identidade no contexto. Usado pelo Auth e pelos testes.
func WithIdentity(ctx context.Context, subject, tenantID, empresaID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, ContextKeySubject, subject)
	ctx = context.WithValue(ctx, ContextKeyTenant, tenantID)
	ctx = context.WithValue(ctx, ContextKeyEmpresa, empresaID)
	ctx = context.WithValue(ctx, ContextKeyRoles, roles)
	return ctx
}

// GetSubject recupera subject do contexto.
func GetSubject(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeySubject).(string)
	return val
}

// GetTenant recupera o tenant do contexto.
func GetTenant(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeyTenant).(string)
	return val
}

// GetEmpresa recupera a empresa do contexto.
func GetEmpresa(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeyEmpresa).(string)
	return val
}

// GetRoles recupera roles do contexto.
func GetRoles(ctx context.Context) []string {
	val, _ := ctx.Value(ContextKeyRoles).([]string)
	return val
}

// RequireTenant barra tokens sem tenant/empresa válidos.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, err := uuid.Parse(GetTenant(ctx)); err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "tenant não identificado")
			return
		}
		if _, err := uuid.Parse(GetEmpresa(ctx)); err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "empresa não identificada")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRoles garante que o usuário possua pelo menos um dos papéis informados.
func RequireRoles(requiredRoles ...string) func(http.Handler) http.Handler {
	normalized := make([]string, 0, len(requiredRoles))
	for _, role := range requiredRoles {
		role = strings.ToUpper(strings.TrimSpace(role))
		if role != "" {
			normalized = append(normalized, role)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, role := range GetRoles(r.Context()) {
				roleUpper := strings.ToUpper(strings.TrimSpace(role))
				for _, required := range normalized {
					if roleUpper == required {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			writeError(w, http.StatusForbidden, "FORBIDDEN", "sem permissão para a operação")
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
		"data":    nil,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
