package mdfe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otenielpinto/mdfe/internal/db"
)

const (
	dbTimeout    = 5 * time.Second
	defaultLimit = 100
	maxLimit     = 500
)

// Repository persiste documentos, numeração, eventos e retornos no Postgres.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const documentoColumns = `
	id, id_tenant, id_empresa, status, COALESCE(chave, ''), COALESCE(protocolo, ''),
	data_autorizacao, documento, criado_em, atualizado_em`

func scanDocumento(row pgx.Row) (*Documento, error) {
	var (
		doc    Documento
		status string
		raw    []byte
	)
	if err := row.Scan(
		&doc.ID, &doc.TenantID, &doc.EmpresaID, &status, &doc.Chave, &doc.Protocolo,
		&doc.DataAutorizacao, &raw, &doc.CriadoEm, &doc.AtualizadoEm,
	); err != nil {
		return nil, err
	}
	doc.Status = Status(status)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc.Secoes); err != nil {
			return nil, fmt.Errorf("documento %s com jsonb inválido: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

func (r *Repository) Get(ctx context.Context, u Usuario, id uuid.UUID) (*Documento, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `SELECT `+documentoColumns+`
		FROM mdfes
		WHERE id = $1 AND id_tenant = $2 AND id_empresa = $3`, id, u.TenantID, u.EmpresaID)
	doc, err := scanDocumento(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (r *Repository) List(ctx context.Context, u Usuario, f Filtro) ([]Documento, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := r.db.Query(ctx, `SELECT `+documentoColumns+`
		FROM mdfes
		WHERE id_tenant = $1 AND id_empresa = $2
		  AND ($3 = '' OR status = $3)
		ORDER BY criado_em DESC
		LIMIT $4`, u.TenantID, u.EmpresaID, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]Documento, 0)
	for rows.Next() {
		doc, err := scanDocumento(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *Repository) Create(ctx context.Context, u Usuario, s Secoes) (*Documento, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	var numero *int
	if s.Ide.NMDF > 0 {
		numero = &s.Ide.NMDF
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO mdfes (id, id_tenant, id_empresa, status, serie, numero, documento, criado_em, atualizado_em)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, now(), now())
		RETURNING `+documentoColumns,
		uuid.New(), u.TenantID, u.EmpresaID, string(StatusPendente), s.Ide.Serie, numero, string(raw))
	return scanDocumento(row)
}

// UpdateSecoes substitui o conteúdo enquanto o status permite edição. Um documento
// REJEITADO volta a PENDENTE para poder ser reenviado. Sem nMDF nas seções, o número
// já reservado (e sua série) é mantido.
func (r *Repository) UpdateSecoes(ctx context.Context, u Usuario, id uuid.UUID, s Secoes) (*Documento, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	var numero *int
	if s.Ide.NMDF > 0 {
		numero = &s.Ide.NMDF
	}

	row := r.db.QueryRow(ctx, `
		UPDATE mdfes
		SET documento = CASE
		        WHEN $6::int IS NULL AND numero > 0 THEN
		            jsonb_set(jsonb_set($4::jsonb, '{ide,nMDF}', to_jsonb(numero), true), '{ide,serie}', to_jsonb(serie), true)
		        ELSE $4::jsonb
		    END,
		    serie = CASE WHEN $6::int IS NULL AND numero > 0 THEN serie ELSE $5 END,
		    numero = COALESCE($6::int, NULLIF(numero, 0)),
		    status = CASE WHEN status = 'REJEITADO' THEN 'PENDENTE' ELSE status END,
		    atualizado_em = now()
		WHERE id = $1 AND id_tenant = $2 AND id_empresa = $3
		  AND status = ANY($7)
		RETURNING `+documentoColumns,
		id, u.TenantID, u.EmpresaID, string(raw), s.Ide.Serie, numero, statusStrings(editableStatuses))
	doc, err := scanDocumento(row)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, err := r.Get(ctx, u, id); err != nil {
		return nil, err
	}
	return nil, ErrStatusConflict
}

var editableStatuses = []Status{StatusPendente, StatusErro, StatusRejeitado}

// AssignNumero reserva o próximo nMDF da série e grava no documento.
func (r *Repository) AssignNumero(ctx context.Context, u Usuario, id uuid.UUID, serie int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var numero int
	err := db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO mdfe_numeracao (id_tenant, id_empresa, serie, ultimo_numero)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (id_tenant, id_empresa, serie)
			DO UPDATE SET ultimo_numero = mdfe_numeracao.ultimo_numero + 1
			RETURNING ultimo_numero`, u.TenantID, u.EmpresaID, serie).Scan(&numero); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE mdfes
			SET numero = $4,
			    documento = jsonb_set(documento, '{ide,nMDF}', to_jsonb($4::int), true),
			    atualizado_em = now()
			WHERE id = $1 AND id_tenant = $2 AND id_empresa = $3
			  AND (numero IS NULL OR numero = 0)`, id, u.TenantID, u.EmpresaID, numero)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStatusConflict
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return numero, nil
}

// UpdateStatus é a escrita condicional: só altera quando o status atual está em Expected.
func (r *Repository) UpdateStatus(ctx context.Context, u Usuario, upd StatusUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return updateStatus(ctx, r.db, u, upd)
}

// CommitTransition grava o evento aceito e a nova situação na mesma transação.
func (r *Repository) CommitTransition(ctx context.Context, u Usuario, ev *Evento, upd StatusUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		if err := insertEvento(ctx, tx, ev); err != nil {
			return err
		}
		return updateStatus(ctx, tx, u, upd)
	})
}

// querier é satisfeito tanto pelo pool quanto por uma pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func updateStatus(ctx context.Context, q querier, u Usuario, upd StatusUpdate) error {
	tag, err := q.Exec(ctx, `
		UPDATE mdfes
		SET status = $4,
		    protocolo = COALESCE(NULLIF($5, ''), protocolo),
		    chave = COALESCE(NULLIF($6, ''), chave),
		    data_autorizacao = COALESCE($7, data_autorizacao),
		    atualizado_em = now()
		WHERE id = $1 AND id_tenant = $2 AND id_empresa = $3
		  AND status = ANY($8)`,
		upd.MdfeID, u.TenantID, u.EmpresaID, string(upd.Status), upd.Protocolo, upd.Chave,
		upd.DataAutorizacao, statusStrings(upd.Expected))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *Repository) InsertEvento(ctx context.Context, ev *Evento) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return insertEvento(ctx, r.db, ev)
}

func insertEvento(ctx context.Context, q querier, ev *Evento) error {
	_, err := q.Exec(ctx, `
		INSERT INTO mdfe_eventos (
			id, mdfe_id, id_tenant, id_empresa, chave, tipo_evento, descricao, n_seq_evento,
			protocolo, cstat, motivo, data_evento, xml, xml_url, pdf_url, aceito, criado_em
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		ev.ID, ev.MdfeID, ev.TenantID, ev.EmpresaID, nullable(ev.Chave), ev.TipoEvento, ev.Descricao,
		ev.NSeqEvento, nullable(ev.Protocolo), ev.CStat, ev.Motivo, ev.DataEvento,
		nullable(ev.XML), nullable(ev.XMLURL), nullable(ev.PDFURL), ev.Aceito, ev.CriadoEm)
	return err
}

func (r *Repository) InsertRetorno(ctx context.Context, ret *Retorno) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := r.db.Exec(ctx, `
		INSERT INTO mdfe_retornos (
			id, mdfe_id, id_tenant, id_empresa, operacao, payload, resposta, http_status, sucesso, criado_em
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10)`,
		ret.ID, ret.MdfeID, ret.TenantID, ret.EmpresaID, ret.Operacao,
		rawJSON(ret.Payload), rawJSON(ret.Resposta), ret.HTTPStatus, ret.Sucesso, ret.CriadoEm)
	return err
}

func (r *Repository) CountEventos(ctx context.Context, u Usuario, mdfeID uuid.UUID, tipo string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var total int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM mdfe_eventos
		WHERE mdfe_id = $1 AND id_tenant = $2 AND id_empresa = $3 AND tipo_evento = $4`,
		mdfeID, u.TenantID, u.EmpresaID, tipo).Scan(&total)
	return total, err
}

func (r *Repository) ListEventos(ctx context.Context, u Usuario, mdfeID uuid.UUID) ([]Evento, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT id, mdfe_id, id_tenant, id_empresa, COALESCE(chave, ''), tipo_evento, descricao,
		       n_seq_evento, COALESCE(protocolo, ''), cstat, motivo, data_evento,
		       COALESCE(xml, ''), COALESCE(xml_url, ''), COALESCE(pdf_url, ''), aceito, criado_em
		FROM mdfe_eventos
		WHERE mdfe_id = $1 AND id_tenant = $2 AND id_empresa = $3
		ORDER BY criado_em, n_seq_evento`, mdfeID, u.TenantID, u.EmpresaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	eventos := make([]Evento, 0)
	for rows.Next() {
		var ev Evento
		if err := rows.Scan(
			&ev.ID, &ev.MdfeID, &ev.TenantID, &ev.EmpresaID, &ev.Chave, &ev.TipoEvento, &ev.Descricao,
			&ev.NSeqEvento, &ev.Protocolo, &ev.CStat, &ev.Motivo, &ev.DataEvento,
			&ev.XML, &ev.XMLURL, &ev.PDFURL, &ev.Aceito, &ev.CriadoEm,
		); err != nil {
			return nil, err
		}
		eventos = append(eventos, ev)
	}
	return eventos, rows.Err()
}

func statusStrings(list []Status) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rawJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}
