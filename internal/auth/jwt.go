package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audience fixa dos tokens emitidos por esta API.
const Audience = "mdfe"

// Claims representa as informações presentes em um JWT de acesso.
type Claims struct {
	TenantID  string   `json:"id_tenant"`
	EmpresaID string   `json:"id_empresa"`
	Roles     []string `json:"roles"`
	jwt.RegisteredClaims
}

// Identity agrupa o que vai dentro do token.
type Identity struct {
	Subject   string
	TenantID  string
	EmpresaID string
	Roles     []string
}

// JWTManager encapsula geração e validação de tokens.
type JWTManager struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewJWTManager cria o gerenciador com segredo e TTL configurados.
func NewJWTManager(secret string, accessTTL time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), accessTTL: accessTTL, now: time.Now}
}

// GenerateAccessToken cria um JWT HS256 e devolve também a expiração.
func (m *JWTManager) GenerateAccessToken(id Identity) (string, time.Time, error) {
	now := m.now().UTC()
	exp := now.Add(m.accessTTL)

	claims := Claims{
		TenantID:  id.TenantID,
		EmpresaID: id.EmpresaID,
		Roles:     id.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, exp, nil
}

// ParseAndValidate verifica assinatura, audience e expiração.
func (m *JWTManager) ParseAndValidate(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithTimeFunc(m.now),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("token inválido")
	}

	return claims, nil
}
