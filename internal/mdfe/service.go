package mdfe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/otenielpinto/mdfe/internal/certificado"
	"github.com/otenielpinto/mdfe/internal/lock"
	"github.com/otenielpinto/mdfe/internal/notify"
	"github.com/otenielpinto/mdfe/internal/publish"
	"github.com/otenielpinto/mdfe/internal/sefaz"
	"github.com/otenielpinto/mdfe/internal/storage"
	"github.com/otenielpinto/mdfe/internal/util"
)

// Store é o acesso a dados usado pelo serviço.
type Store interface {
	AuditStore
	Get(ctx context.Context, u Usuario, id uuid.UUID) (*Documento, error)
	List(ctx context.Context, u Usuario, f Filtro) ([]Documento, error)
	Create(ctx context.Context, u Usuario, s Secoes) (*Documento, error)
	UpdateSecoes(ctx context.Context, u Usuario, id uuid.UUID, s Secoes) (*Documento, error)
	AssignNumero(ctx context.Context, u Usuario, id uuid.UUID, serie int) (int, error)
	UpdateStatus(ctx context.Context, u Usuario, upd StatusUpdate) error
	CommitTransition(ctx context.Context, u Usuario, ev *Evento, upd StatusUpdate) error
	CountEventos(ctx context.Context, u Usuario, mdfeID uuid.UUID, tipo string) (int, error)
	ListEventos(ctx context.Context, u Usuario, mdfeID uuid.UUID) ([]Evento, error)
}

// Gateway é o cliente do gateway fiscal.
type Gateway interface {
	Do(ctx context.Context, op sefaz.Operacao, payload any) sefaz.Result
}

type CertificateStore interface {
	Current(ctx context.Context, tenantID, empresaID uuid.UUID) (*certificado.Certificado, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error)
}

// Deps agrupa os colaboradores do serviço. Locker, Notifier e Publisher são opcionais.
type Deps struct {
	Store        Store
	Gateway      Gateway
	Municipios   MunicipioLookup
	Certificados CertificateStore
	Locker       Locker
	Uploader     storage.Uploader
	Notifier     notify.Notifier
	Publisher    publish.Publisher
	Logger       zerolog.Logger
	LockTTL      time.Duration
	Now          func() time.Time
}

// Service é o único ponto que altera o status de um MDF-e.
type Service struct {
	store        Store
	gateway      Gateway
	municipios   MunicipioLookup
	certificados CertificateStore
	locker       Locker
	recorder     *Recorder
	notifier     notify.Notifier
	publisher    publish.Publisher
	logger       zerolog.Logger
	lockTTL      time.Duration
	now          func() time.Time
}

func NewService(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	lockTTL := d.LockTTL
	if lockTTL <= 0 {
		lockTTL = 90 * time.Second
	}
	publisher := d.Publisher
	if publisher == nil {
		publisher = publish.Noop{}
	}
	return &Service{
		store:        d.Store,
		gateway:      d.Gateway,
		municipios:   d.Municipios,
		certificados: d.Certificados,
		locker:       d.Locker,
		recorder:     NewRecorder(d.Store, d.Uploader, d.Logger),
		notifier:     d.Notifier,
		publisher:    publisher,
		logger:       d.Logger,
		lockTTL:      lockTTL,
		now:          now,
	}
}

// Outcome é o resultado devolvido ao cliente nas operações fiscais.
type Outcome struct {
	MdfeID     uuid.UUID `json:"mdfeId"`
	Status     Status    `json:"status"`
	CStat      int       `json:"cStat,omitempty"`
	XMotivo    string    `json:"xMotivo,omitempty"`
	Protocolo  string    `json:"protocolo,omitempty"`
	Chave      string    `json:"chave,omitempty"`
	NMDF       int       `json:"nMDF,omitempty"`
	NSeqEvento int       `json:"nSeqEvento,omitempty"`
	Message    string    `json:"-"`
}

func (o *Outcome) details() map[string]any {
	d := map[string]any{
		"mdfeId": o.MdfeID,
		"status": o.Status,
		"cStat":  o.CStat,
	}
	if o.XMotivo != "" {
		d["xMotivo"] = o.XMotivo
	}
	if o.Protocolo != "" {
		d["protocolo"] = o.Protocolo
	}
	if o.NSeqEvento > 0 {
		d["nSeqEvento"] = o.NSeqEvento
	}
	return d
}

// Transition é a mensagem publicada após uma mudança de status.
type Transition struct {
	MdfeID     uuid.UUID `json:"mdfeId"`
	TenantID   uuid.UUID `json:"id_tenant"`
	EmpresaID  uuid.UUID `json:"id_empresa"`
	De         Status    `json:"de"`
	Para       Status    `json:"para"`
	Chave      string    `json:"chave,omitempty"`
	Protocolo  string    `json:"protocolo,omitempty"`
	CStat      int       `json:"cStat"`
	OcorridoEm time.Time `json:"ocorridoEm"`
}

func requireTenant(u Usuario) *Error {
	if u.TenantID == uuid.Nil || u.EmpresaID == uuid.Nil {
		return newError(KindUnauthorized, "usuário sem tenant/empresa", nil)
	}
	return nil
}

func (s *Service) load(ctx context.Context, u Usuario, id uuid.UUID) (*Documento, *Error) {
	if id == uuid.Nil {
		return nil, newError(KindValidation, "mdfeId obrigatório", map[string]any{"campo": "mdfeId"})
	}
	doc, err := s.store.Get(ctx, u, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindNotFound, "MDF-e não encontrado", map[string]any{"mdfeId": id})
		}
		return nil, internalError("falha ao carregar MDF-e", err)
	}
	// O repositório já filtra por tenant; a checagem aqui protege implementações alternativas.
	if doc.TenantID != u.TenantID || doc.EmpresaID != u.EmpresaID {
		return nil, newError(KindNotFound, "MDF-e não encontrado", map[string]any{"mdfeId": id})
	}
	return doc, nil
}

// acquire trava o documento durante a chamada ao gateway. Falha do redis não
// bloqueia a operação: a escrita condicional de status continua valendo.
func (s *Service) acquire(ctx context.Context, docID uuid.UUID) (func(context.Context), *Error) {
	noop := func(context.Context) {}
	if s.locker == nil {
		return noop, nil
	}
	release, err := s.locker.Acquire(ctx, docID.String(), s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, newError(KindConflict, "operação em andamento para este MDF-e", map[string]any{"mdfeId": docID})
		}
		s.logger.Warn().Err(err).Str("mdfe_id", docID.String()).Msg("lock indisponível; seguindo sem trava")
		return noop, nil
	}
	return release, nil
}

func (s *Service) nextSeq(ctx context.Context, u Usuario, docID uuid.UUID, tipo string, informado int) (int, *Error) {
	if informado > 0 {
		return informado, nil
	}
	total, err := s.store.CountEventos(ctx, u, docID, tipo)
	if err != nil {
		return 0, internalError("falha ao calcular nSeqEvento", err)
	}
	return total + 1, nil
}

// call executa a chamada e grava o retorno. Falhas do gateway disparam alerta.
func (s *Service) call(ctx context.Context, u Usuario, docID *uuid.UUID, op sefaz.Operacao, payload any) (*sefaz.Response, *Error) {
	res := s.gateway.Do(ctx, op, payload)

	logEvt := s.logger.Info()
	if !res.Success {
		logEvt = s.logger.Warn()
	}
	logEvt = logEvt.Str("operacao", string(op)).Int("http_status", res.HTTPStatus).Dur("duracao", res.Duration)
	if docID != nil {
		logEvt = logEvt.Str("mdfe_id", docID.String())
	}
	if res.Data != nil {
		logEvt = logEvt.Int("cstat", int(res.Data.CStat))
	}
	if res.Error != nil {
		logEvt = logEvt.Str("erro", res.Error.Code)
	}
	logEvt.Msg("sefaz")

	_ = s.recorder.RecordRetorno(ctx, u, docID, op, payload, res, s.now())

	if res.Success {
		return res.Data, nil
	}

	gwErr := res.Error
	if gwErr == nil {
		gwErr = &sefaz.Error{Code: sefaz.CodeInternal, Message: "resultado do gateway sem erro descrito"}
	}
	s.alert(ctx, op, docID, gwErr)

	kind := KindInternal
	switch gwErr.Code {
	case sefaz.CodeSefazError:
		kind = KindSefazError
	case sefaz.CodeTimeout:
		kind = KindTimeout
	}
	return nil, &Error{Kind: kind, Message: gwErr.Message, Details: gwErr.Details}
}

func (s *Service) alert(ctx context.Context, op sefaz.Operacao, docID *uuid.UUID, gwErr *sefaz.Error) {
	if s.notifier == nil {
		return
	}
	severity := notify.SeverityWarning
	if gwErr.Code == sefaz.CodeInternal {
		severity = notify.SeverityCritical
	}
	fields := map[string]string{"operacao": string(op), "codigo": gwErr.Code}
	if docID != nil {
		fields["mdfe_id"] = docID.String()
	}
	if err := s.notifier.Notify(ctx, notify.Alert{
		Title:    "Falha no gateway SEFAZ",
		Text:     gwErr.Message,
		Severity: severity,
		Fields:   fields,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("falha ao enviar alerta")
	}
}

func (s *Service) publishTransition(ctx context.Context, key string, doc *Documento, para Status, chave, protocolo string, cStat int) {
	if chave == "" {
		chave = doc.Chave
	}
	if protocolo == "" {
		protocolo = doc.Protocolo
	}
	msg := Transition{
		MdfeID:     doc.ID,
		TenantID:   doc.TenantID,
		EmpresaID:  doc.EmpresaID,
		De:         doc.Status,
		Para:       para,
		Chave:      chave,
		Protocolo:  protocolo,
		CStat:      cStat,
		OcorridoEm: s.now(),
	}
	if err := s.publisher.Publish(ctx, key, msg); err != nil {
		s.logger.Warn().Err(err).Str("mdfe_id", doc.ID.String()).Str("routing_key", key).Msg("falha ao publicar transição")
	}
}

// commit grava evento + status na mesma transação. Em conflito o evento ainda
// é gravado sozinho, e o usuário recebe o desfecho real do gateway.
func (s *Service) commit(ctx context.Context, u Usuario, ev *Evento, upd StatusUpdate, out *Outcome) *Error {
	err := s.store.CommitTransition(ctx, u, ev, upd)
	if err == nil {
		return nil
	}

	_ = s.recorder.RecordEvento(ctx, ev)

	if errors.Is(err, ErrStatusConflict) {
		s.logger.Warn().Str("mdfe_id", upd.MdfeID.String()).Str("status", string(upd.Status)).Msg("status alterado durante a operação")
		return newError(KindConflict, "status do MDF-e foi alterado por outra operação", out.details())
	}
	s.logger.Error().Err(err).Str("mdfe_id", upd.MdfeID.String()).Msg("falha ao gravar transição")
	return &Error{Kind: KindInternal, Message: "gateway aceitou a operação, mas o status local não foi atualizado", Details: out.details(), Err: err}
}

// Enviar submete o MDF-e para autorização.
func (s *Service) Enviar(ctx context.Context, u Usuario, mdfeID uuid.UUID) (*Outcome, error) {
	if derr := requireTenant(u); derr != nil {
		return nil, derr
	}
	doc, derr := s.load(ctx, u, mdfeID)
	if derr != nil {
		return nil, derr
	}
	if d := CanSend(doc.Status); !d.Permitido {
		return nil, ruleViolation("envio", doc, d)
	}
	if derr := s.checkCertificado(ctx, u); derr != nil {
		return nil, derr
	}
	// nenhuma numeração é consumida por um documento incompleto
	gerarNumero := doc.Ide.NMDF <= 0
	if derr := checkEnvio(doc, gerarNumero); derr != nil {
		return nil, derr
	}

	release, derr := s.acquire(ctx, doc.ID)
	if derr != nil {
		return nil, derr
	}
	defer release(context.WithoutCancel(ctx))

	if gerarNumero {
		numero, err := s.store.AssignNumero(ctx, u, doc.ID, doc.Ide.Serie)
		if err != nil {
			if errors.Is(err, ErrStatusConflict) {
				return nil, newError(KindConflict, "numeração alterada por outra operação", nil)
			}
			return nil, internalError("falha ao gerar número do MDF-e", err)
		}
		doc.Ide.NMDF = numero
	}

	payload, derr := BuildEnvio(doc)
	if derr != nil {
		return nil, derr
	}

	resp, derr := s.call(ctx, u, &doc.ID, sefaz.OperacaoEnvio, payload)
	if derr != nil {
		return nil, derr
	}

	now := s.now()
	it := InterpretEnvio(*resp, now)
	seq, derr := s.nextSeq(ctx, u, doc.ID, TipoEventoAutorizacao, 0)
	if derr != nil {
		s.logger.Warn().Err(derr).Str("mdfe_id", doc.ID.String()).Msg("nSeqEvento indisponível; usando 1")
		seq = 1
	}
	ev := NewEvento(doc, TipoEventoAutorizacao, "autorização", seq, it, now)
	s.recorder.AttachArtifacts(ctx, &ev, *resp)

	out := &Outcome{
		MdfeID:     doc.ID,
		Status:     it.NovoStatus,
		CStat:      it.CStat,
		XMotivo:    it.Motivo,
		Protocolo:  it.Protocolo,
		Chave:      it.Chave,
		NMDF:       doc.Ide.NMDF,
		NSeqEvento: seq,
	}

	expected := []Status{StatusPendente, StatusErro}

	if it.Aceito {
		if it.Chave == "" || it.Protocolo == "" {
			s.logger.Warn().Str("mdfe_id", doc.ID.String()).Msg("autorização sem chave ou protocolo na resposta")
		}
		dataAut := it.DataEvento
		upd := StatusUpdate{
			MdfeID:          doc.ID,
			Expected:        expected,
			Status:          StatusAutorizado,
			Protocolo:       it.Protocolo,
			Chave:           it.Chave,
			DataAutorizacao: &dataAut,
		}
		if derr := s.commit(ctx, u, &ev, upd, out); derr != nil {
			return nil, derr
		}
		s.publishTransition(ctx, publish.KeyAutorizado, doc, StatusAutorizado, it.Chave, it.Protocolo, it.CStat)
		out.Message = "MDF-e autorizado"
		return out, nil
	}

	if it.EmProcessamento {
		if doc.Status != StatusPendente {
			upd := StatusUpdate{MdfeID: doc.ID, Expected: expected, Status: StatusPendente}
			if derr := s.commit(ctx, u, &ev, upd, out); derr != nil {
				return nil, derr
			}
		} else {
			_ = s.recorder.RecordEvento(ctx, &ev)
		}
		out.Message = "lote recebido pela SEFAZ; consulte a situação antes de reenviar"
		return out, nil
	}

	if it.NovoStatus != doc.Status {
		upd := StatusUpdate{MdfeID: doc.ID, Expected: expected, Status: it.NovoStatus}
		if derr := s.commit(ctx, u, &ev, upd, out); derr != nil {
			return nil, derr
		}
		if it.NovoStatus == StatusRejeitado || it.NovoStatus == StatusDenegado {
			s.publishTransition(ctx, publish.KeyRejeitado, doc, it.NovoStatus, "", "", it.CStat)
		}
	} else {
		_ = s.recorder.RecordEvento(ctx, &ev)
	}

	return nil, newError(KindSefazRejection, rejectionMessage(it), out.details())
}

func (s *Service) checkCertificado(ctx context.Context, u Usuario) *Error {
	if s.certificados == nil {
		return internalError("repositório de certificados indisponível", nil)
	}
	cert, err := s.certificados.Current(ctx, u.TenantID, u.EmpresaID)
	if err != nil {
		if errors.Is(err, certificado.ErrNotFound) {
			return newError(KindBusinessRule, "certificado digital não cadastrado", nil)
		}
		return internalError("falha ao consultar certificado", err)
	}
	if !cert.Vigente(s.now()) {
		return newError(KindBusinessRule, "certificado digital vencido", map[string]any{"validade": cert.Validade})
	}
	return nil
}

// Cancelar registra o evento 110111.
func (s *Service) Cancelar(ctx context.Context, u Usuario, in CancelamentoInput) (*Outcome, error) {
	if derr := requireTenant(u); derr != nil {
		return nil, derr
	}
	doc, derr := s.load(ctx, u, in.MdfeID)
	if derr != nil {
		return nil, derr
	}
	if derr := checkCancel(doc, s.now()); derr != nil {
		return nil, derr
	}

	release, derr := s.acquire(ctx, doc.ID)
	if derr != nil {
		return nil, derr
	}
	defer release(context.WithoutCancel(ctx))

	seq, derr := s.nextSeq(ctx, u, doc.ID, TipoEventoCancelamento, in.NSeqEvento)
	if derr != nil {
		return nil, derr
	}
	payload, derr := BuildCancelamento(doc, in, seq, s.now())
	if derr != nil {
		return nil, derr
	}

	resp, derr := s.call(ctx, u, &doc.ID, sefaz.OperacaoCancelamento, payload)
	if derr != nil {
		return nil, derr
	}

	now := s.now()
	it := InterpretCancelamento(*resp, now)
	return s.finishEvento(ctx, u, doc, it, TipoEventoCancelamento, "cancelamento", seq, *resp, publish.KeyCancelado)
}

// Encerrar registra o evento 110112.
func (s *Service) Encerrar(ctx context.Context, u Usuario, in EncerramentoInput) (*Outcome, error) {
	if derr := requireTenant(u); derr != nil {
		return nil, derr
	}
	doc, derr := s.load(ctx, u, in.MdfeID)
	if derr != nil {
		return nil, derr
	}
	if derr := checkClose(doc, s.now()); derr != nil {
		return nil, derr
	}

	release, derr := s.acquire(ctx, doc.ID)
	if derr != nil {
		return nil, derr
	}
	defer release(context.WithoutCancel(ctx))

	seq, derr := s.nextSeq(ctx, u, doc.ID, TipoEventoEncerramento, in.NSeqEvento)
	if derr != nil {
		return nil, derr
	}
	payload, derr := BuildEncerramento(ctx, doc, in, s.municipios, seq, s.now())
	if derr != nil {
		return nil, derr
	}
	if in.CodigoMunicipio > 0 && in.CodigoMunicipio != payload.CMun {
		s.logger.Warn().
			Str("mdfe_id", doc.ID.String()).
			Int("codigo_informado", in.CodigoMunicipio).
			Int("codigo_resolvido", payload.CMun).
			Msg("codigoMunicipio divergente do nome; usando o resolvido")
	}

	resp, derr := s.call(ctx, u, &doc.ID, sefaz.OperacaoEncerramento, payload)
	if derr != nil {
		return nil, derr
	}

	now := s.now()
	it := InterpretEncerramento(*resp, now)
	return s.finishEvento(ctx, u, doc, it, TipoEventoEncerramento, "encerramento", seq, *resp, publish.KeyEncerrado)
}

// finishEvento aplica o desfecho de cancelamento/encerramento. Rejeição mantém o status.
func (s *Service) finishEvento(ctx context.Context, u Usuario, doc *Documento, it Interpretacao, tipo, descricao string, seq int, resp sefaz.Response, routingKey string) (*Outcome, error) {
	now := s.now()
	ev := NewEvento(doc, tipo, descricao, seq, it, now)
	s.recorder.AttachArtifacts(ctx, &ev, resp)

	out := &Outcome{
		MdfeID:     doc.ID,
		Status:     doc.Status,
		CStat:      it.CStat,
		XMotivo:    it.Motivo,
		Protocolo:  it.Protocolo,
		Chave:      doc.Chave,
		NSeqEvento: seq,
	}

	if !it.Aceito {
		_ = s.recorder.RecordEvento(ctx, &ev)
		return nil, newError(KindSefazRejection, rejectionMessage(it), out.details())
	}

	out.Status = it.NovoStatus
	upd := StatusUpdate{MdfeID: doc.ID, Expected: []Status{StatusAutorizado}, Status: it.NovoStatus}
	if derr := s.commit(ctx, u, &ev, upd, out); derr != nil {
		return nil, derr
	}
	s.publishTransition(ctx, routingKey, doc, it.NovoStatus, "", it.Protocolo, it.CStat)
	out.Message = descricao + " registrado"
	return out, nil
}

func rejectionMessage(it Interpretacao) string {
	if it.Motivo != "" {
		return it.Motivo
	}
	return "rejeitado pela SEFAZ (cStat " + strconv.Itoa(it.CStat) + ")"
}

// Consultar consulta a situação do MDF-e pela chave. Não altera o status local.
func (s *Service) Consultar(ctx context.Context, u Usuario, mdfeID uuid.UUID) (*Outcome, error) {
	if derr := requireTenant(u); derr != nil {
		return nil, derr
	}
	doc, derr := s.load(ctx, u, mdfeID)
	if derr != nil {
		return nil, derr
	}
	if doc.Chave == "" {
		return nil, newError(KindMissingData, "MDF-e sem chave de acesso", map[string]any{"campos": []string{"chave"}})
	}

	payload := map[string]any{
		"mdfeId":     doc.ID.String(),
		"id_tenant":  doc.TenantID.String(),
		"id_empresa": doc.EmpresaID.String(),
		"chave":      doc.Chave,
		"tpAmb":      doc.Ide.TpAmb,
	}
	resp, derr := s.call(ctx, u, &doc.ID, sefaz.OperacaoConsulta, payload)
	if derr != nil {
		return nil, derr
	}

	out := &Outcome{
		MdfeID:    doc.ID,
		Status:    MapToStatus(int(resp.CStat)),
		CStat:     int(resp.CStat),
		XMotivo:   resp.XMotivo,
		Protocolo: resp.EventProtocolo(),
		Chave:     doc.Chave,
	}
	if out.Status != doc.Status {
		s.logger.Info().
			Str("mdfe_id", doc.ID.String()).
			Str("status_local", string(doc.Status)).
			Str("status_sefaz", string(out.Status)).
			Msg("situação na SEFAZ diverge do status local")
	}
	out.Message = resp.XMotivo
	return out, nil
}

// ServicoStatus consulta a disponibilidade do serviço na UF.
func (s *Service) ServicoStatus(ctx context.Context, u Usuario, uf string) (*sefaz.Response, error) {
	if derr := requireTenant(u); derr != nil {
		return nil, derr
	}
	cUF, ok := CodigoUF(uf)
	if !ok {
		return nil, newError(KindValidation, "uf inválida", map[string]any{"campo": "uf", "valor": uf})
	}
	payload := map[string]any{
		"uf":         strings.ToUpper(strings.TrimSpace(uf)),
		"cUF":        cUF,
		"id_tenant":  u.TenantID.String(),
		"id_empresa": u.EmpresaID.String(),
	}
	resp, derr := s.call(ctx, u, nil, sefaz.OperacaoStatus, payload)
	if derr != nil {
		return nil, derr
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, u Usuario, id uuid.UUID) (*Documento, error) {
	if derr := requireTenant(u); derr != nil {
		return nil, derr
	}
	doc, derr := s.load(ctx, u, id)
	if derr != nil {
		return nil, derr
	}
	return doc, nil
}

func (s *Service) List(ctx context.Context, u Usuario, f Filtro) ([]Documento, error) {
	if derr := requireTenant(u); derr != nil {
		return nil, derr
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, newError(KindValidation, "status inválido", map[string]any{"campo": "status", "valor": f.Status})
	}
	docs, err := s.store.List(ctx, u, f)
	if err != nil {
		return nil, internalError("falha ao listar MDF-e", err)
	}
	return docs, nil
}

func (s *Service) Create(ctx context.Context, u Usuario, sec Secoes) (*Documento, error) {
	if derr := requireTenant(u); derr != nil {
		return nil, derr
	}
	if derr := validateDraft(sec); derr != nil {
		return nil, derr
	}
	doc, err := s.store.Create(ctx, u, sec)
	if err != nil {
		return nil, internalError("falha ao criar MDF-e", err)
	}
	s.logger.Info().Str("mdfe_id", doc.ID.String()).Str("usuario", u.ID.String()).Msg("mdfe criado")
	return doc, nil
}

func (s *Service) Update(ctx context.Context, u Usuario, id uuid.UUID, sec Secoes) (*Documento, error) {
	if derr := requireTenant(u); derr != nil {
		return nil, derr
	}
	if derr := validateDraft(sec); derr != nil {
		return nil, derr
	}
	atual, derr := s.load(ctx, u, id)
	if derr != nil {
		return nil, derr
	}
	// número já reservado não volta para a série
	if sec.Ide.NMDF <= 0 && atual.Ide.NMDF > 0 {
		sec.Ide.NMDF = atual.Ide.NMDF
		sec.Ide.Serie = atual.Ide.Serie
	}
	doc, err := s.store.UpdateSecoes(ctx, u, id, sec)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, newError(KindNotFound, "MDF-e não encontrado", map[string]any{"mdfeId": id})
		case errors.Is(err, ErrStatusConflict):
			return nil, newError(KindBusinessRule, "MDF-e não pode ser editado no status atual", nil)
		}
		return nil, internalError("falha ao atualizar MDF-e", err)
	}
	return doc, nil
}

func (s *Service) ListEventos(ctx context.Context, u Usuario, id uuid.UUID) ([]Evento, error) {
	if derr := requireTenant(u); derr != nil {
		return nil, derr
	}
	if _, derr := s.load(ctx, u, id); derr != nil {
		return nil, derr
	}
	eventos, err := s.store.ListEventos(ctx, u, id)
	if err != nil {
		return nil, internalError("falha ao listar eventos", err)
	}
	return eventos, nil
}

// validateDraft só barra formatos inválidos; campos obrigatórios são exigidos no envio.
func validateDraft(sec Secoes) *Error {
	var invalid []string
	if sec.Ide.UFIni != "" {
		if _, ok := CodigoUF(sec.Ide.UFIni); !ok {
			invalid = append(invalid, "ide.UFIni")
		}
	}
	if sec.Ide.UFFim != "" {
		if _, ok := CodigoUF(sec.Ide.UFFim); !ok {
			invalid = append(invalid, "ide.UFFim")
		}
	}
	if sec.Ide.Serie < 0 || sec.Ide.Serie > 999 {
		invalid = append(invalid, "ide.serie")
	}
	if sec.Ide.NMDF < 0 {
		invalid = append(invalid, "ide.nMDF")
	}
	if strings.TrimSpace(sec.Emit.CNPJ) != "" && !util.ValidCNPJ(sec.Emit.CNPJ) {
		invalid = append(invalid, "emit.CNPJ")
	}
	if strings.TrimSpace(sec.Emit.CPF) != "" && !util.ValidCPF(sec.Emit.CPF) {
		invalid = append(invalid, "emit.CPF")
	}
	if sec.Rodo != nil {
		for i, c := range sec.Rodo.VeicTracao.Condutor {
			if !util.ValidCPF(c.CPF) {
				invalid = append(invalid, fmt.Sprintf("rodo.veicTracao.condutor[%d].CPF", i))
			}
		}
	}
	if len(invalid) > 0 {
		return newError(KindValidation, fmt.Sprintf("%d campo(s) inválido(s)", len(invalid)), map[string]any{"campos": invalid})
	}
	return nil
}
