package mdfe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/otenielpinto/mdfe/internal/sefaz"
	"github.com/otenielpinto/mdfe/internal/storage"
)

// AuditStore grava eventos e retornos.
type AuditStore interface {
	InsertEvento(ctx context.Context, ev *Evento) error
	InsertRetorno(ctx context.Context, ret *Retorno) error
}

// Recorder grava a trilha de auditoria. Falhas são registradas em log e devolvidas,
// mas o chamador nunca troca a resposta ao usuário por causa delas.
type Recorder struct {
	store    AuditStore
	uploader storage.Uploader
	logger   zerolog.Logger
}

func NewRecorder(store AuditStore, uploader storage.Uploader, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, uploader: uploader, logger: logger}
}

// NewEvento monta o registro a partir da interpretação.
func NewEvento(doc *Documento, tipo, descricao string, nSeq int, it Interpretacao, now time.Time) Evento {
	chave := strings.TrimSpace(doc.Chave)
	if chave == "" {
		chave = it.Chave
	}
	return Evento{
		ID:         uuid.New(),
		MdfeID:     doc.ID,
		TenantID:   doc.TenantID,
		EmpresaID:  doc.EmpresaID,
		Chave:      chave,
		TipoEvento: tipo,
		Descricao:  descricao,
		NSeqEvento: nSeq,
		Protocolo:  it.Protocolo,
		CStat:      it.CStat,
		Motivo:     it.Motivo,
		DataEvento: it.DataEvento,
		Aceito:     it.Aceito,
		CriadoEm:   now,
	}
}

// AttachArtifacts guarda XML/PDF devolvidos pelo gateway. Sem storage configurado
// o XML fica inline no evento e o PDF é descartado.
func (r *Recorder) AttachArtifacts(ctx context.Context, ev *Evento, resp sefaz.Response) {
	xml := strings.TrimSpace(resp.XML)
	pdf := strings.TrimSpace(resp.PDFBase64)
	if xml == "" && pdf == "" {
		return
	}

	if !storage.Enabled(r.uploader) {
		ev.XML = xml
		return
	}

	meta := map[string]string{"tipo-evento": ev.TipoEvento}
	if ev.Chave != "" {
		meta["chave"] = ev.Chave
	}

	if xml != "" {
		res, err := r.uploader.Upload(ctx, storage.UploadInput{
			Key:         storage.ArtifactKey(ev.TenantID, ev.MdfeID, ev.TipoEvento, ev.NSeqEvento, "xml"),
			Body:        []byte(xml),
			ContentType: "application/xml",
			Metadata:    meta,
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("mdfe_id", ev.MdfeID.String()).Msg("falha ao armazenar xml; mantendo inline")
			ev.XML = xml
		} else {
			ev.XMLURL = res.URL
		}
	}

	if pdf != "" {
		body, err := base64.StdEncoding.DecodeString(pdf)
		if err != nil {
			r.logger.Warn().Err(err).Str("mdfe_id", ev.MdfeID.String()).Msg("pdfBase64 inválido")
			return
		}
		res, err := r.uploader.Upload(ctx, storage.UploadInput{
			Key:         storage.ArtifactKey(ev.TenantID, ev.MdfeID, ev.TipoEvento, ev.NSeqEvento, "pdf"),
			Body:        body,
			ContentType: "application/pdf",
			Metadata:    meta,
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("mdfe_id", ev.MdfeID.String()).Msg("falha ao armazenar pdf")
			return
		}
		ev.PDFURL = res.URL
	}
}

// RecordEvento grava o evento isolado (desfechos rejeitados ou fallback de conflito).
func (r *Recorder) RecordEvento(ctx context.Context, ev *Evento) error {
	if err := r.store.InsertEvento(ctx, ev); err != nil {
		r.logger.Error().Err(err).
			Str("mdfe_id", ev.MdfeID.String()).
			Str("tipo_evento", ev.TipoEvento).
			Int("n_seq_evento", ev.NSeqEvento).
			Int("cstat", ev.CStat).
			Msg("falha ao gravar evento")
		return err
	}
	return nil
}

// RecordRetorno grava o payload enviado e a resposta recebida. Só faz sentido
// quando a chamada terminou com resposta HTTP.
func (r *Recorder) RecordRetorno(ctx context.Context, u Usuario, mdfeID *uuid.UUID, op sefaz.Operacao, payload any, res sefaz.Result, now time.Time) error {
	if !res.Completed {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("null")
	}
	resposta := res.RawResponse
	if len(resposta) == 0 {
		resposta = json.RawMessage("null")
	}

	ret := &Retorno{
		ID:         uuid.New(),
		MdfeID:     mdfeID,
		TenantID:   u.TenantID,
		EmpresaID:  u.EmpresaID,
		Operacao:   string(op),
		Payload:    body,
		Resposta:   resposta,
		HTTPStatus: res.HTTPStatus,
		Sucesso:    res.Success,
		CriadoEm:   now,
	}
	if err := r.store.InsertRetorno(ctx, ret); err != nil {
		ev := r.logger.Error().Err(err).Str("operacao", string(op))
		if mdfeID != nil {
			ev = ev.Str("mdfe_id", mdfeID.String())
		}
		ev.Msg("falha ao gravar retorno")
		return err
	}
	return nil
}
