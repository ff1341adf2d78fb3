package usuario

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indica usuário inexistente.
	ErrNotFound = errors.New("usuário não encontrado")
	// ErrEmailInUse indica e-mail já cadastrado.
	ErrEmailInUse = errors.New("email já cadastrado")
)

// Usuario é o operador fiscal vinculado a um tenant e a uma empresa emitente.
type Usuario struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"idTenant"`
	EmpresaID uuid.UUID `json:"idEmpresa"`
	Nome      string    `json:"nome"`
	Email     string    `json:"email"`
	SenhaHash string    `json:"-"`
	Papeis    []string  `json:"papeis"`
	Ativo     bool      `json:"ativo"`
	CriadoEm  time.Time `json:"criadoEm"`
}

// Repository acessa a tabela usuarios.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository cria o repositório.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const usuarioColumns = `id, id_tenant, id_empresa, nome, email, senha_hash, papeis, ativo, criado_em`

func scanUsuario(row pgx.Row) (*Usuario, error) {
	var u Usuario
	if err := row.Scan(&u.ID, &u.TenantID, &u.EmpresaID, &u.Nome, &u.Email, &u.SenhaHash, &u.Papeis, &u.Ativo, &u.CriadoEm); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetByEmail busca pelo e-mail já normalizado em minúsculas.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Usuario, error) {
	row := r.db.QueryRow(ctx, `SELECT `+usuarioColumns+` FROM usuarios WHERE email = $1`, email)
	return scanUsuario(row)
}

// GetByID busca pelo identificador.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Usuario, error) {
	row := r.db.QueryRow(ctx, `SELECT `+usuarioColumns+` FROM usuarios WHERE id = $1`, id)
	return scanUsuario(row)
}

// Create insere o usuário e devolve o registro gravado.
func (r *Repository) Create(ctx context.Context, u Usuario) (*Usuario, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO usuarios (id, id_tenant, id_empresa, nome, email, senha_hash, papeis, ativo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT (email) DO NOTHING
		RETURNING `+usuarioColumns,
		uuid.New(), u.TenantID, u.EmpresaID, u.Nome, u.Email, u.SenhaHash, u.Papeis)
	created, err := scanUsuario(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrEmailInUse
	}
	return created, err
}

// ListByEmpresa lista os usuários de uma empresa.
func (r *Repository) ListByEmpresa(ctx context.Context, tenantID, empresaID uuid.UUID) ([]Usuario, error) {
	rows, err := r.db.Query(ctx, `SELECT `+usuarioColumns+` FROM usuarios
		WHERE id_tenant = $1 AND id_empresa = $2 ORDER BY nome`, tenantID, empresaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Usuario
	for rows.Next() {
		u, err := scanUsuario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
