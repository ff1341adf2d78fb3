package mdfe

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/otenielpinto/mdfe/internal/util"
)

const (
	JustificativaMin = 15
	JustificativaMax = 255
)

// codigosUF mapeia sigla para o código IBGE da UF.
var codigosUF = map[string]int{
	"RO": 11, "AC": 12, "AM": 13, "RR": 14, "PA": 15, "AP": 16, "TO": 17,
	"MA": 21, "PI": 22, "CE": 23, "RN": 24, "PB": 25, "PE": 26, "AL": 27, "SE": 28, "BA": 29,
	"MG": 31, "ES": 32, "RJ": 33, "SP": 35,
	"PR": 41, "SC": 42, "RS": 43,
	"MS": 50, "MT": 51, "GO": 52, "DF": 53,
}

// CodigoUF devolve o código IBGE da UF informada.
func CodigoUF(uf string) (int, bool) {
	code, ok := codigosUF[strings.ToUpper(strings.TrimSpace(uf))]
	return code, ok
}

// MunicipioLookup resolve nome de município para o código IBGE.
type MunicipioLookup interface {
	Resolve(ctx context.Context, uf, nome string) (codigoIBGE int, found bool, err error)
	Exists(ctx context.Context, uf string, codigoIBGE int) (bool, error)
}

// EnvioPayload é o documento completo enviado para autorização.
type EnvioPayload struct {
	MdfeID    string `json:"mdfeId"`
	IDTenant  string `json:"id_tenant"`
	IDEmpresa string `json:"id_empresa"`
	Secoes
}

type eventoBase struct {
	MdfeID     string `json:"mdfeId"`
	IDTenant   string `json:"id_tenant"`
	IDEmpresa  string `json:"id_empresa"`
	Chave      string `json:"chave"`
	NProt      string `json:"nProt"`
	CNPJ       string `json:"cnpj,omitempty"`
	CPF        string `json:"cpf,omitempty"`
	UF         string `json:"uf"`
	CUF        int    `json:"cUF"`
	TpAmb      int    `json:"tpAmb"`
	TpEvento   string `json:"tpEvento"`
	NSeqEvento int    `json:"nSeqEvento"`
	DhEvento   string `json:"dhEvento"`
}

// CancelamentoPayload é o evento 110111.
type CancelamentoPayload struct {
	eventoBase
	Justificativa string `json:"justificativa"`
}

// EncerramentoPayload é o evento 110112.
type EncerramentoPayload struct {
	eventoBase
	UFEncerramento  string `json:"ufEncerramento"`
	CUFEncerramento int    `json:"cUFEncerramento"`
	CMun            int    `json:"cMun"`
	DtEnc           string `json:"dtEnc"`
	DhEncerramento  string `json:"dhEncerramento"`
}

// CancelamentoInput é o corpo de POST /sefaz/cancelamento.
type CancelamentoInput struct {
	MdfeID        uuid.UUID `json:"mdfeId"`
	Justificativa string    `json:"justificativa"`
	NSeqEvento    int       `json:"nSeqEvento,omitempty"`
}

// EncerramentoInput é o corpo de POST /sefaz/encerramento.
type EncerramentoInput struct {
	MdfeID                uuid.UUID `json:"mdfeId"`
	UFEncerramento        string    `json:"ufEncerramento"`
	MunicipioEncerramento string    `json:"municipioEncerramento"`
	CodigoMunicipio       int       `json:"codigoMunicipio,omitempty"`
	DataEncerramento      string    `json:"dataEncerramento,omitempty"`
	NSeqEvento            int       `json:"nSeqEvento,omitempty"`
}

// BuildEnvio valida as seções e monta o payload de autorização.
func BuildEnvio(doc *Documento) (*EnvioPayload, *Error) {
	if derr := checkEnvio(doc, false); derr != nil {
		return nil, derr
	}
	secoes := doc.Secoes
	if code, ok := CodigoUF(emitterUF(doc)); ok && secoes.Ide.CUF == 0 {
		secoes.Ide.CUF = code
	}
	return &EnvioPayload{
		MdfeID:    doc.ID.String(),
		IDTenant:  doc.TenantID.String(),
		IDEmpresa: doc.EmpresaID.String(),
		Secoes:    secoes,
	}, nil
}

// BuildCancelamento valida a justificativa e monta o evento de cancelamento.
func BuildCancelamento(doc *Documento, in CancelamentoInput, nSeq int, now time.Time) (*CancelamentoPayload, *Error) {
	justificativa := strings.TrimSpace(in.Justificativa)
	if n := utf8.RuneCountInString(justificativa); n < JustificativaMin || n > JustificativaMax {
		return nil, newError(KindValidation, fmt.Sprintf("justificativa deve ter entre %d e %d caracteres", JustificativaMin, JustificativaMax), map[string]any{
			"campo":   "justificativa",
			"tamanho": n,
		})
	}
	base, err := buildEventoBase(doc, TipoEventoCancelamento, nSeq, now)
	if err != nil {
		return nil, err
	}
	return &CancelamentoPayload{eventoBase: base, Justificativa: justificativa}, nil
}

// BuildEncerramento resolve o município de encerramento e monta o evento 110112.
// O nome informado é a fonte de verdade; codigoMunicipio só é usado sem nome.
func BuildEncerramento(ctx context.Context, doc *Documento, in EncerramentoInput, lookup MunicipioLookup, nSeq int, now time.Time) (*EncerramentoPayload, *Error) {
	uf := strings.ToUpper(strings.TrimSpace(in.UFEncerramento))
	cUF, ok := CodigoUF(uf)
	if !ok {
		return nil, newError(KindValidation, "ufEncerramento inválida", map[string]any{"campo": "ufEncerramento", "valor": in.UFEncerramento})
	}

	dhEnc := now
	if raw := strings.TrimSpace(in.DataEncerramento); raw != "" {
		t, ok := parseDataEncerramento(raw, now.Location())
		if !ok {
			return nil, newError(KindValidation, "dataEncerramento inválida", map[string]any{"campo": "dataEncerramento", "valor": raw})
		}
		dhEnc = t
	}
	if dhEnc.After(now.Add(5 * time.Minute)) {
		return nil, newError(KindValidation, "dataEncerramento no futuro", map[string]any{"campo": "dataEncerramento"})
	}
	if auth := doc.AuthorizedAt(); !auth.IsZero() && dhEnc.Before(startOfDay(auth, now.Location())) {
		return nil, newError(KindValidation, "dataEncerramento anterior à autorização", map[string]any{"campo": "dataEncerramento"})
	}

	cMun, derr := resolveMunicipio(ctx, uf, in, lookup)
	if derr != nil {
		return nil, derr
	}

	base, err := buildEventoBase(doc, TipoEventoEncerramento, nSeq, now)
	if err != nil {
		return nil, err
	}
	return &EncerramentoPayload{
		eventoBase:      base,
		UFEncerramento:  uf,
		CUFEncerramento: cUF,
		CMun:            cMun,
		DtEnc:           dhEnc.Format("2006-01-02"),
		DhEncerramento:  dhEnc.Format(time.RFC3339),
	}, nil
}

func resolveMunicipio(ctx context.Context, uf string, in EncerramentoInput, lookup MunicipioLookup) (int, *Error) {
	nome := strings.TrimSpace(in.MunicipioEncerramento)
	if lookup == nil {
		return 0, internalError("consulta de municípios indisponível", nil)
	}

	if nome == "" {
		if in.CodigoMunicipio <= 0 {
			return 0, newError(KindMissingData, "município de encerramento não informado", map[string]any{"campo": "municipioEncerramento"})
		}
		ok, err := lookup.Exists(ctx, uf, in.CodigoMunicipio)
		if err != nil {
			return 0, internalError("falha ao consultar município", err)
		}
		if !ok {
			return 0, newError(KindMissingData, "código de município não pertence à UF", map[string]any{
				"codigoMunicipio": in.CodigoMunicipio,
				"uf":              uf,
			})
		}
		return in.CodigoMunicipio, nil
	}

	code, found, err := lookup.Resolve(ctx, uf, nome)
	if err != nil {
		return 0, internalError("falha ao consultar município", err)
	}
	if !found || code <= 0 {
		return 0, newError(KindMissingData, "município de encerramento não encontrado", map[string]any{
			"municipioEncerramento": nome,
			"uf":                    uf,
		})
	}
	return code, nil
}

func buildEventoBase(doc *Documento, tpEvento string, nSeq int, now time.Time) (eventoBase, *Error) {
	if missing := missingAuthorization(doc); len(missing) > 0 {
		return eventoBase{}, newError(KindMissingData, "MDF-e sem dados da autorização", map[string]any{"campos": missing})
	}
	uf := emitterUF(doc)
	cUF, ok := CodigoUF(uf)
	if !ok {
		cUF, uf, ok = ufFromChave(doc.Chave)
	}
	if !ok {
		return eventoBase{}, newError(KindMissingData, "UF do emitente ausente", map[string]any{"campos": []string{"emit.enderEmit.UF"}})
	}
	cnpj := util.OnlyDigits(doc.Emit.CNPJ)
	cpf := util.OnlyDigits(doc.Emit.CPF)
	if cnpj == "" && cpf == "" {
		return eventoBase{}, newError(KindMissingData, "documento do emitente ausente", map[string]any{"campos": []string{"emit.CNPJ"}})
	}
	if nSeq <= 0 {
		nSeq = 1
	}
	return eventoBase{
		MdfeID:     doc.ID.String(),
		IDTenant:   doc.TenantID.String(),
		IDEmpresa:  doc.EmpresaID.String(),
		Chave:      strings.TrimSpace(doc.Chave),
		NProt:      strings.TrimSpace(doc.Protocolo),
		CNPJ:       cnpj,
		CPF:        cpf,
		UF:         uf,
		CUF:        cUF,
		TpAmb:      doc.Ide.TpAmb,
		TpEvento:   tpEvento,
		NSeqEvento: nSeq,
		DhEvento:   now.Format(time.RFC3339),
	}, nil
}

// checkEnvio valida o documento antes do envio. Com numeroPendente o nMDF
// ausente é aceito, pois será reservado logo em seguida.
func checkEnvio(doc *Documento, numeroPendente bool) *Error {
	var missing []string
	for _, campo := range validateSecoes(doc.Secoes) {
		if numeroPendente && campo == "ide.nMDF" {
			continue
		}
		missing = append(missing, campo)
	}
	if len(missing) > 0 {
		return newError(KindMissingData, "MDF-e incompleto para envio", map[string]any{"campos": missing})
	}
	return nil
}

// validateSecoes lista os campos obrigatórios ausentes para o envio.
func validateSecoes(s Secoes) []string {
	var missing []string
	add := func(cond bool, campo string) {
		if cond {
			missing = append(missing, campo)
		}
	}

	add(util.OnlyDigits(s.Emit.CNPJ) == "" && util.OnlyDigits(s.Emit.CPF) == "", "emit.CNPJ")
	add(strings.TrimSpace(s.Emit.IE) == "", "emit.IE")
	add(strings.TrimSpace(s.Emit.XNome) == "", "emit.xNome")
	_, ufEmit := CodigoUF(s.Emit.EnderEmit.UF)
	add(!ufEmit, "emit.enderEmit.UF")
	add(s.Emit.EnderEmit.CMun <= 0, "emit.enderEmit.cMun")

	add(s.Ide.Serie < 0, "ide.serie")
	add(s.Ide.NMDF <= 0, "ide.nMDF")
	_, ufIni := CodigoUF(s.Ide.UFIni)
	add(!ufIni, "ide.UFIni")
	_, ufFim := CodigoUF(s.Ide.UFFim)
	add(!ufFim, "ide.UFFim")
	add(len(s.Ide.InfMunCarrega) == 0, "ide.infMunCarrega")

	switch s.Ide.Modal {
	case ModalRodoviario:
		add(s.Rodo == nil || strings.TrimSpace(s.Rodo.VeicTracao.Placa) == "", "rodo.veicTracao.placa")
		add(s.Rodo != nil && len(s.Rodo.VeicTracao.Condutor) == 0, "rodo.veicTracao.condutor")
	case ModalAquaviario:
		add(s.Aquav == nil || strings.TrimSpace(s.Aquav.IRIN) == "", "aquav.irin")
	case ModalAereo, ModalFerroviario:
	default:
		missing = append(missing, "ide.modal")
	}

	add(len(s.InfDoc.InfMunDescarga) == 0, "infDoc.infMunDescarga")
	for i, mun := range s.InfDoc.InfMunDescarga {
		add(mun.CMunDescarga <= 0, fmt.Sprintf("infDoc.infMunDescarga[%d].cMunDescarga", i))
		add(len(mun.InfCTe) == 0 && len(mun.InfNFe) == 0, fmt.Sprintf("infDoc.infMunDescarga[%d].documentos", i))
	}

	add(s.Tot.VCarga <= 0, "tot.vCarga")
	add(s.Tot.QCarga <= 0, "tot.qCarga")
	add(strings.TrimSpace(s.Tot.CUnid) == "", "tot.cUnid")

	return missing
}

func emitterUF(doc *Documento) string {
	if uf := strings.ToUpper(strings.TrimSpace(doc.Emit.EnderEmit.UF)); uf != "" {
		return uf
	}
	return strings.ToUpper(strings.TrimSpace(doc.Ide.UFIni))
}

// ufFromChave usa os dois primeiros dígitos da chave de acesso (cUF).
func ufFromChave(chave string) (int, string, bool) {
	digits := util.OnlyDigits(chave)
	if len(digits) != 44 {
		return 0, "", false
	}
	var code int
	if _, err := fmt.Sscanf(digits[:2], "%d", &code); err != nil {
		return 0, "", false
	}
	for uf, c := range codigosUF {
		if c == code {
			return code, uf, true
		}
	}
	return 0, "", false
}

var dataEncerramentoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseDataEncerramento(raw string, loc *time.Location) (time.Time, bool) {
	for _, layout := range dataEncerramentoLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

