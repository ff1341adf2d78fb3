package usuario

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/otenielpinto/mdfe/internal/auth"
	"github.com/otenielpinto/mdfe/internal/util"
)

var (
	// ErrInvalidCredentials indica falha na autenticação.
	ErrInvalidCredentials = errors.New("credenciais inválidas")
	// ErrAccountDisabled indica conta desativada.
	ErrAccountDisabled = errors.New("conta desativada")
)

// PapelEmissor é o papel padrão de quem opera MDF-e.
const PapelEmissor = "EMISSOR"

type store interface {
	GetByEmail(ctx context.Context, email string) (*Usuario, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Usuario, error)
	Create(ctx context.Context, u Usuario) (*Usuario, error)
	ListByEmpresa(ctx context.Context, tenantID, empresaID uuid.UUID) ([]Usuario, error)
}

// Service concentra login e cadastro de usuários.
type Service struct {
	store  store
	jwt    *auth.JWTManager
	logger zerolog.Logger
}

// NewService cria o serviço.
func NewService(s store, jwt *auth.JWTManager, logger zerolog.Logger) *Service {
	return &Service{store: s, jwt: jwt, logger: logger}
}

// JWT expõe o gerenciador usado pelo middleware de autenticação.
func (s *Service) JWT() *auth.JWTManager {
	return s.jwt
}

// LoginResult é devolvido após autenticação bem sucedida.
type LoginResult struct {
	AccessToken string    `json:"accessToken"`
	ExpiraEm    time.Time `json:"expiraEm"`
	Usuario     *Usuario  `json:"usuario"`
}

// Login valida e-mail e senha e emite o token com tenant e empresa do usuário.
func (s *Service) Login(ctx context.Context, email, senha string) (*LoginResult, error) {
	u, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn().Msg("login: usuário não encontrado")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := auth.Verify(senha, u.SenhaHash)
	if err != nil {
		s.logger.Warn().Err(err).Str("usuario", u.ID.String()).Msg("login: hash inválido")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		s.logger.Warn().Str("usuario", u.ID.String()).Msg("login: senha inválida")
		return nil, ErrInvalidCredentials
	}
	if !u.Ativo {
		return nil, ErrAccountDisabled
	}

	token, exp, err := s.jwt.GenerateAccessToken(auth.Identity{
		Subject:   u.ID.String(),
		TenantID:  u.TenantID.String(),
		EmpresaID: u.EmpresaID.String(),
		Roles:     u.Papeis,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("usuario", u.ID.String()).Str("id_tenant", u.TenantID.String()).Msg("login")
	return &LoginResult{AccessToken: token, ExpiraEm: exp, Usuario: u}, nil
}

// Me devolve o usuário autenticado.
func (s *Service) Me(ctx context.Context, id uuid.UUID) (*Usuario, error) {
	return s.store.GetByID(ctx, id)
}

// CreateInput são os dados de cadastro.
type CreateInput struct {
	TenantID  uuid.UUID
	EmpresaID uuid.UUID
	Nome      string
	Email     string
	Senha     string
	Papeis    []string
}

// Create cadastra usuário com senha em Argon2id.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Usuario, error) {
	if in.TenantID == uuid.Nil || in.EmpresaID == uuid.Nil {
		return nil, errors.New("tenant e empresa são obrigatórios")
	}
	if strings.TrimSpace(in.Nome) == "" {
		return nil, errors.New("nome obrigatório")
	}
	if err := util.ValidateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := util.ValidatePassword(in.Senha); err != nil {
		return nil, err
	}
	hash, err := auth.Hash(in.Senha)
	if err != nil {
		return nil, err
	}

	papeis := make([]string, 0, len(in.Papeis))
	for _, p := range in.Papeis {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			papeis = append(papeis, p)
		}
	}
	if len(papeis) == 0 {
		papeis = []string{PapelEmissor}
	}

	return s.store.Create(ctx, Usuario{
		TenantID:  in.TenantID,
		EmpresaID: in.EmpresaID,
		Nome:      strings.TrimSpace(in.Nome),
		Email:     normalizeEmail(in.Email),
		SenhaHash: hash,
		Papeis:    papeis,
	})
}

// List lista os usuários da empresa.
func (s *Service) List(ctx context.Context, tenantID, empresaID uuid.UUID) ([]Usuario, error) {
	return s.store.ListByEmpresa(ctx, tenantID, empresaID)
}
