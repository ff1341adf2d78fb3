package usuario

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/otenielpinto/mdfe/internal/auth"
)

type stubStore struct {
	byEmail map[string]*Usuario
	created []Usuario
}

func (s *stubStore) GetByEmail(ctx context.Context, email string) (*Usuario, error) {
	if u, ok := s.byEmail[email]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (s *stubStore) GetByID(ctx context.Context, id uuid.UUID) (*Usuario, error) {
	for _, u := range s.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *stubStore) Create(ctx context.Context, u Usuario) (*Usuario, error) {
	if _, ok := s.byEmail[u.Email]; ok {
		return nil, ErrEmailInUse
	}
	u.ID = uuid.New()
	u.Ativo = true
	s.created = append(s.created, u)
	return &u, nil
}

func (s *stubStore) ListByEmpresa(ctx context.Context, tenantID, empresaID uuid.UUID) ([]Usuario, error) {
	return nil, nil
}

func newTestService(t *testing.T, users ...*Usuario) (*Service, *stubStore) {
	t.Helper()
	store := &stubStore{byEmail: map[string]*Usuario{}}
	for _, u := range users {
		store.byEmail[u.Email] = u
	}
	jwt := auth.NewJWTManager("0123456789abcdef0123456789abcdef", time.Hour)
	return NewService(store, jwt, zerolog.Nop()), store
}

func mustHash(t *testing.T, senha string) string {
	t.Helper()
	h, err := auth.Hash(senha)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

func TestLogin(t *testing.T) {
	hash := mustHash(t, "senhaforte")
	ativo := &Usuario{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		EmpresaID: uuid.New(),
		Email:     "fiscal@empresa.com.br",
		SenhaHash: hash,
		Papeis:    []string{PapelEmissor},
		Ativo:     true,
	}
	inativo := &Usuario{ID: uuid.New(), Email: "antigo@empresa.com.br", SenhaHash: hash}
	svc, _ := newTestService(t, ativo, inativo)

	res, err := svc.Login(context.Background(), "  Fiscal@Empresa.com.br ", "senhaforte")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := svc.JWT().ParseAndValidate(res.AccessToken)
	if err != nil {
		t.Fatalf("token inválido: %v", err)
	}
	if claims.TenantID != ativo.TenantID.String() || claims.EmpresaID != ativo.EmpresaID.String() {
		t.Fatalf("claims = %+v", claims)
	}

	if _, err := svc.Login(context.Background(), ativo.Email, "errada123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "ninguem@empresa.com.br", "senhaforte"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
	if _, err := svc.Login(context.Background(), inativo.Email, "senhaforte"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected disabled account, got %v", err)
	}
}

func TestCreate(t *testing.T) {
	svc, store := newTestService(t)
	tenant, empresa := uuid.New(), uuid.New()

	u, err := svc.Create(context.Background(), CreateInput{
		TenantID:  tenant,
		EmpresaID: empresa,
		Nome:      " Maria ",
		Email:     "Maria@Transportes.com.br",
		Senha:     "senhaforte",
		Papeis:    []string{" admin ", ""},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Email != "maria@transportes.com.br" || u.Nome != "Maria" {
		t.Fatalf("usuario = %+v", u)
	}
	if len(u.Papeis) != 1 || u.Papeis[0] != "ADMIN" {
		t.Fatalf("papeis = %v", u.Papeis)
	}
	if ok, _ := auth.Verify("senhaforte", store.created[0].SenhaHash); !ok {
		t.Fatalf("senha não foi gravada com hash válido")
	}

	invalid := []CreateInput{
		{TenantID: tenant, EmpresaID: empresa, Nome: "X", Email: "sem-arroba", Senha: "senhaforte"},
		{TenantID: tenant, EmpresaID: empresa, Nome: "X", Email: "x@y.com", Senha: "curta"},
		{TenantID: uuid.Nil, EmpresaID: empresa, Nome: "X", Email: "x@y.com", Senha: "senhaforte"},
		{TenantID: tenant, EmpresaID: empresa, Nome: " ", Email: "x@y.com", Senha: "senhaforte"},
	}
	for i, in := range invalid {
		if _, err := svc.Create(context.Background(), in); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
