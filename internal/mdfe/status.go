package mdfe

import (
	"strings"
	"time"
)

const (
	PrazoCancelamento = 24 * time.Hour
	PrazoEncerramento = 30 * 24 * time.Hour
)

const (
	MotivoStatusInvalido = "status inválido"
	MotivoPrazoExpirado  = "prazo legal expirado"
)

// Decisao é o resultado de uma regra de transição.
type Decisao struct {
	Permitido bool
	Motivo    string
}

func permitido() Decisao { return Decisao{Permitido: true} }

func negado(motivo string) Decisao { return Decisao{Motivo: motivo} }

// CanSend libera o envio para autorização a partir de PENDENTE ou ERRO.
func CanSend(status Status) Decisao {
	if status == StatusPendente || status == StatusErro {
		return permitido()
	}
	return negado(MotivoStatusInvalido)
}

// CanCancel exige AUTORIZADO e no máximo 24h desde a autorização.
func CanCancel(status Status, autorizadoEm, now time.Time) Decisao {
	return withinDeadline(status, autorizadoEm, now, PrazoCancelamento)
}

// CanClose exige AUTORIZADO e no máximo 30 dias desde a autorização.
func CanClose(status Status, autorizadoEm, now time.Time) Decisao {
	return withinDeadline(status, autorizadoEm, now, PrazoEncerramento)
}

func withinDeadline(status Status, autorizadoEm, now time.Time, prazo time.Duration) Decisao {
	if status != StatusAutorizado {
		return negado(MotivoStatusInvalido)
	}
	// Sem data de autorização não há como contar o prazo.
	if autorizadoEm.IsZero() {
		return negado(MotivoPrazoExpirado)
	}
	if now.Sub(autorizadoEm) > prazo {
		return negado(MotivoPrazoExpirado)
	}
	return permitido()
}

// checkCancel aplica CanCancel ao documento e exige chave/protocolo.
func checkCancel(doc *Documento, now time.Time) *Error {
	d := CanCancel(doc.Status, doc.AuthorizedAt(), now)
	if !d.Permitido {
		return ruleViolation("cancelamento", doc, d)
	}
	if missing := missingAuthorization(doc); len(missing) > 0 {
		return newError(KindMissingData, "MDF-e sem dados da autorização", map[string]any{"campos": missing})
	}
	return nil
}

// checkClose aplica CanClose ao documento e exige chave/protocolo.
func checkClose(doc *Documento, now time.Time) *Error {
	d := CanClose(doc.Status, doc.AuthorizedAt(), now)
	if !d.Permitido {
		return ruleViolation("encerramento", doc, d)
	}
	if missing := missingAuthorization(doc); len(missing) > 0 {
		return newError(KindMissingData, "MDF-e sem dados da autorização", map[string]any{"campos": missing})
	}
	return nil
}

func ruleViolation(operacao string, doc *Documento, d Decisao) *Error {
	return newError(KindBusinessRule, operacao+" não permitido: "+d.Motivo, map[string]any{
		"status": doc.Status,
		"motivo": d.Motivo,
	})
}

func missingAuthorization(doc *Documento) []string {
	var missing []string
	if strings.TrimSpace(doc.Chave) == "" {
		missing = append(missing, "chave")
	}
	if strings.TrimSpace(doc.Protocolo) == "" {
		missing = append(missing, "protocolo")
	}
	return missing
}
