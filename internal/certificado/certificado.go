package certificado

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("certificado não encontrado")

// Certificado é o A1 da empresa usado pelo gateway para assinar.
// Conteúdo e senha nunca saem do banco por esta API.
type Certificado struct {
	ID               uuid.UUID `json:"id"`
	TenantID         uuid.UUID `json:"id_tenant"`
	EmpresaID        uuid.UUID `json:"id_empresa"`
	TitularDocumento string    `json:"titular_documento"`
	Validade         time.Time `json:"validade"`
	CriadoEm         time.Time `json:"criado_em"`
}

// Vigente informa se o certificado ainda é válido em now.
func (c Certificado) Vigente(now time.Time) bool {
	return now.Before(c.Validade)
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Current devolve o certificado mais recente da empresa.
func (r *Repository) Current(ctx context.Context, tenantID, empresaID uuid.UUID) (*Certificado, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	const query = `
		SELECT id, id_tenant, id_empresa, titular_documento, validade, criado_em
		FROM certificados
		WHERE id_tenant = $1 AND id_empresa = $2
		ORDER BY validade DESC
		LIMIT 1`

	var c Certificado
	err := r.db.QueryRow(ctx, query, tenantID, empresaID).Scan(
		&c.ID, &c.TenantID, &c.EmpresaID, &c.TitularDocumento, &c.Validade, &c.CriadoEm,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
