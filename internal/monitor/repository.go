package monitor

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 3 * time.Second

// Store guarda o histórico das verificações.
type Store interface {
	InsertCheck(ctx context.Context, h Health) error
	LatestByUF(ctx context.Context) ([]Health, error)
	History(ctx context.Context, uf string, limit int) ([]Health, error)
}

// Repository encapsula a tabela monitor_sefaz_verificacoes.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const healthColumns = `uf, disponivel, COALESCE(cstat, 0), COALESCE(xmotivo, ''), COALESCE(erro, ''),
	latencia_ms, falhas_consecutivas, verificado_em`

func (r *Repository) InsertCheck(ctx context.Context, h Health) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	const query = `
		INSERT INTO monitor_sefaz_verificacoes
			(uf, disponivel, cstat, xmotivo, erro, latencia_ms, falhas_consecutivas, verificado_em)
		VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		h.UF, h.Disponivel, h.CStat, h.XMotivo, h.Erro, h.LatenciaMS, h.FalhasConsecutivas, h.VerificadoEm)
	return err
}

// LatestByUF devolve a verificação mais recente de cada UF.
func (r *Repository) LatestByUF(ctx context.Context) ([]Health, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (uf) `+healthColumns+`
		FROM monitor_sefaz_verificacoes
		ORDER BY uf, verificado_em DESC`)
	if err != nil {
		return nil, err
	}
	return scanHealthRows(rows)
}

func (r *Repository) History(ctx context.Context, uf string, limit int) ([]Health, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT `+healthColumns+`
		FROM monitor_sefaz_verificacoes
		WHERE uf = $1
		ORDER BY verificado_em DESC
		LIMIT $2`, uf, limit)
	if err != nil {
		return nil, err
	}
	return scanHealthRows(rows)
}

func scanHealthRows(rows pgx.Rows) ([]Health, error) {
	defer rows.Close()
	out := []Health{}
	for rows.Next() {
		var h Health
		if err := rows.Scan(&h.UF, &h.Disponivel, &h.CStat, &h.XMotivo, &h.Erro,
			&h.LatenciaMS, &h.FalhasConsecutivas, &h.VerificadoEm); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
