package mdfe

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status é o estado do MDF-e no ciclo de vida.
type Status string

const (
	StatusPendente   Status = "PENDENTE"
	StatusAutorizado Status = "AUTORIZADO"
	StatusRejeitado  Status = "REJEITADO"
	StatusDenegado   Status = "DENEGADO"
	StatusEncerrado  Status = "ENCERRADO"
	StatusCancelado  Status = "CANCELADO"
	StatusErro       Status = "ERRO"
)

// AllStatuses lista os estados válidos.
var AllStatuses = []Status{
	StatusPendente,
	StatusAutorizado,
	StatusRejeitado,
	StatusDenegado,
	StatusEncerrado,
	StatusCancelado,
	StatusErro,
}

// Valid informa se o valor pertence ao enum.
func (s Status) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal indica estados sem transições posteriores.
func (s Status) Terminal() bool {
	return s == StatusCancelado || s == StatusEncerrado
}

// Editable indica se as seções do documento ainda podem ser substituídas.
func (s Status) Editable() bool {
	return s == StatusPendente || s == StatusErro || s == StatusRejeitado
}

// Usuario é o chamador autenticado. Toda leitura e escrita é filtrada por TenantID e EmpresaID.
type Usuario struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	EmpresaID uuid.UUID
}

// Ide é a identificação do manifesto.
type Ide struct {
	CUF           int          `json:"cUF,omitempty"`
	TpAmb         int          `json:"tpAmb"`
	TpEmit        int          `json:"tpEmit"`
	Serie         int          `json:"serie"`
	NMDF          int          `json:"nMDF,omitempty"`
	Modal         string       `json:"modal"`
	DhEmi         string       `json:"dhEmi,omitempty"`
	UFIni         string       `json:"UFIni"`
	UFFim         string       `json:"UFFim"`
	InfMunCarrega []MunCarrega `json:"infMunCarrega,omitempty"`
	InfPercurso   []Percurso   `json:"infPercurso,omitempty"`
	DhIniViagem   string       `json:"dhIniViagem,omitempty"`
}

type MunCarrega struct {
	CMunCarrega int    `json:"cMunCarrega"`
	XMunCarrega string `json:"xMunCarrega"`
}

type Percurso struct {
	UFPer string `json:"UFPer"`
}

// Modais aceitos em Ide.Modal.
const (
	ModalRodoviario  = "1"
	ModalAereo       = "2"
	ModalAquaviario  = "3"
	ModalFerroviario = "4"
)

// Emit é o emitente.
type Emit struct {
	CNPJ      string    `json:"CNPJ,omitempty"`
	CPF       string    `json:"CPF,omitempty"`
	IE        string    `json:"IE"`
	XNome     string    `json:"xNome"`
	XFant     string    `json:"xFant,omitempty"`
	EnderEmit EnderEmit `json:"enderEmit"`
}

type EnderEmit struct {
	XLgr    string `json:"xLgr"`
	Nro     string `json:"nro"`
	XCpl    string `json:"xCpl,omitempty"`
	XBairro string `json:"xBairro"`
	CMun    int    `json:"cMun"`
	XMun    string `json:"xMun"`
	CEP     string `json:"CEP,omitempty"`
	UF      string `json:"UF"`
	Fone    string `json:"fone,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Rodo é o modal rodoviário.
type Rodo struct {
	InfANTT     *InfANTT  `json:"infANTT,omitempty"`
	VeicTracao  Veiculo   `json:"veicTracao"`
	VeicReboque []Veiculo `json:"veicReboque,omitempty"`
}

type InfANTT struct {
	RNTRC string `json:"RNTRC,omitempty"`
}

type Veiculo struct {
	CInt     string     `json:"cInt,omitempty"`
	Placa    string     `json:"placa"`
	RENAVAM  string     `json:"RENAVAM,omitempty"`
	Tara     int        `json:"tara"`
	CapKG    int        `json:"capKG,omitempty"`
	TpRod    string     `json:"tpRod,omitempty"`
	TpCar    string     `json:"tpCar,omitempty"`
	UF       string     `json:"UF,omitempty"`
	Condutor []Condutor `json:"condutor,omitempty"`
}

type Condutor struct {
	XNome string `json:"xNome"`
	CPF   string `json:"CPF"`
}

// Aquav é o modal aquaviário.
type Aquav struct {
	IRIN     string `json:"irin"`
	TpEmb    string `json:"tpEmb"`
	CEmbar   string `json:"cEmbar"`
	XEmbar   string `json:"xEmbar"`
	NViag    string `json:"nViag"`
	CPrtEmb  string `json:"cPrtEmb"`
	CPrtDest string `json:"cPrtDest"`
}

// InfDoc agrupa os documentos vinculados por município de descarregamento.
type InfDoc struct {
	InfMunDescarga []MunDescarga `json:"infMunDescarga"`
}

type MunDescarga struct {
	CMunDescarga int      `json:"cMunDescarga"`
	XMunDescarga string   `json:"xMunDescarga"`
	InfCTe       []InfCTe `json:"infCTe,omitempty"`
	InfNFe       []InfNFe `json:"infNFe,omitempty"`
}

type InfCTe struct {
	ChCTe string `json:"chCTe"`
}

type InfNFe struct {
	ChNFe string `json:"chNFe"`
}

// Tot são os totalizadores da carga.
type Tot struct {
	QCTe   int     `json:"qCTe,omitempty"`
	QNFe   int     `json:"qNFe,omitempty"`
	VCarga float64 `json:"vCarga"`
	CUnid  string  `json:"cUnid"`
	QCarga float64 `json:"qCarga"`
}

type InfAdic struct {
	InfAdFisco string `json:"infAdFisco,omitempty"`
	InfCpl     string `json:"infCpl,omitempty"`
}

// Secoes é o conteúdo fiscal do documento, gravado como jsonb.
type Secoes struct {
	Ide     Ide      `json:"ide"`
	Emit    Emit     `json:"emit"`
	Rodo    *Rodo    `json:"rodo,omitempty"`
	Aquav   *Aquav   `json:"aquav,omitempty"`
	InfDoc  InfDoc   `json:"infDoc"`
	Tot     Tot      `json:"tot"`
	InfAdic *InfAdic `json:"infAdic,omitempty"`
}

// Documento é o MDF-e armazenado.
type Documento struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"id_tenant"`
	EmpresaID       uuid.UUID  `json:"id_empresa"`
	Status          Status     `json:"status"`
	Chave           string     `json:"chave,omitempty"`
	Protocolo       string     `json:"protocolo,omitempty"`
	DataAutorizacao *time.Time `json:"data_autorizacao,omitempty"`
	Secoes
	CriadoEm     time.Time `json:"criado_em"`
	AtualizadoEm time.Time `json:"atualizado_em"`
}

// AuthorizedAt devolve a data de autorização, ou zero quando ausente.
func (d Documento) AuthorizedAt() time.Time {
	if d.DataAutorizacao == nil {
		return time.Time{}
	}
	return *d.DataAutorizacao
}

// Tipos de evento gravados em mdfe_eventos.
const (
	TipoEventoAutorizacao  = "autorizacao"
	TipoEventoCancelamento = "110111"
	TipoEventoEncerramento = "110112"
)

// Evento é o registro imutável de cada interação com resultado interpretável.
type Evento struct {
	ID         uuid.UUID `json:"id"`
	MdfeID     uuid.UUID `json:"mdfe_id"`
	TenantID   uuid.UUID `json:"id_tenant"`
	EmpresaID  uuid.UUID `json:"id_empresa"`
	Chave      string    `json:"chave,omitempty"`
	TipoEvento string    `json:"tipo_evento"`
	Descricao  string    `json:"descricao"`
	NSeqEvento int       `json:"n_seq_evento"`
	Protocolo  string    `json:"protocolo,omitempty"`
	CStat      int       `json:"cstat"`
	Motivo     string    `json:"motivo"`
	DataEvento time.Time `json:"data_evento"`
	XML        string    `json:"xml,omitempty"`
	XMLURL     string    `json:"xml_url,omitempty"`
	PDFURL     string    `json:"pdf_url,omitempty"`
	Aceito     bool      `json:"aceito"`
	CriadoEm   time.Time `json:"criado_em"`
}

// Retorno guarda o payload enviado e a resposta bruta do gateway.
type Retorno struct {
	ID         uuid.UUID       `json:"id"`
	MdfeID     *uuid.UUID      `json:"mdfe_id,omitempty"`
	TenantID   uuid.UUID       `json:"id_tenant"`
	EmpresaID  uuid.UUID       `json:"id_empresa"`
	Operacao   string          `json:"operacao"`
	Payload    json.RawMessage `json:"payload"`
	Resposta   json.RawMessage `json:"resposta"`
	HTTPStatus int             `json:"http_status"`
	Sucesso    bool            `json:"sucesso"`
	CriadoEm   time.Time       `json:"criado_em"`
}

// StatusUpdate descreve uma escrita condicional de status.
type StatusUpdate struct {
	MdfeID          uuid.UUID
	Expected        []Status
	Status          Status
	Protocolo       string
	Chave           string
	DataAutorizacao *time.Time
}

// Filtro para listagem de documentos.
type Filtro struct {
	Status Status
	Limit  int
}
