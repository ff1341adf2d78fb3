package mdfe

import (
	"time"

	"github.com/otenielpinto/mdfe/internal/sefaz"
)

// MapToStatus traduz um cStat para o status do documento. É total: códigos
// desconhecidos viram ERRO.
func MapToStatus(cStat int) Status {
	switch {
	case cStat == 100:
		return StatusAutorizado
	case cStat == 101:
		return StatusCancelado
	case cStat == 132:
		return StatusEncerrado
	case cStat == 110 || cStat == 301 || cStat == 302 || cStat == 303:
		return StatusDenegado
	case cStat == 103 || cStat == 105:
		// lote recebido / em processamento
		return StatusPendente
	case cStat >= 200 && cStat <= 999:
		return StatusRejeitado
	default:
		return StatusErro
	}
}

// IsEventAccepted informa se o evento foi vinculado ao MDF-e (135) ou registrado (136).
func IsEventAccepted(resp sefaz.Response) bool {
	switch resp.EventCStat() {
	case 135, 136:
		return true
	}
	return false
}

// IsClosureAccepted aceita 135 e 631 (encerramento já registrado).
func IsClosureAccepted(resp sefaz.Response) bool {
	switch resp.EventCStat() {
	case 135, 631:
		return true
	}
	return false
}

// Interpretacao é a decisão tomada a partir da resposta do gateway.
type Interpretacao struct {
	Aceito     bool
	NovoStatus Status // vazio mantém o status atual
	CStat      int
	Motivo     string
	Protocolo  string
	Chave      string
	DataEvento time.Time

	// lote recebido (103) ou em processamento (105); o resultado sai pela consulta
	EmProcessamento bool
}

// InterpretEnvio decide o desfecho de uma submissão para autorização.
func InterpretEnvio(resp sefaz.Response, now time.Time) Interpretacao {
	it := Interpretacao{
		CStat:      int(resp.CStat),
		Motivo:     resp.XMotivo,
		Protocolo:  resp.EventProtocolo(),
		Chave:      resp.AccessKey(),
		DataEvento: processedAt(resp, now),
	}
	it.NovoStatus = MapToStatus(it.CStat)
	it.Aceito = it.NovoStatus == StatusAutorizado
	it.EmProcessamento = it.CStat == 103 || it.CStat == 105
	return it
}

// InterpretCancelamento: aceito leva a CANCELADO; qualquer outro código mantém o status.
func InterpretCancelamento(resp sefaz.Response, now time.Time) Interpretacao {
	it := eventInterpretation(resp, now)
	if IsEventAccepted(resp) {
		it.Aceito = true
		it.NovoStatus = StatusCancelado
	}
	return it
}

// InterpretEncerramento: aceito leva a ENCERRADO; qualquer outro código mantém o status.
func InterpretEncerramento(resp sefaz.Response, now time.Time) Interpretacao {
	it := eventInterpretation(resp, now)
	if IsClosureAccepted(resp) {
		it.Aceito = true
		it.NovoStatus = StatusEncerrado
	}
	return it
}

func eventInterpretation(resp sefaz.Response, now time.Time) Interpretacao {
	return Interpretacao{
		CStat:      resp.EventCStat(),
		Motivo:     resp.EventMotivo(),
		Protocolo:  resp.EventProtocolo(),
		Chave:      resp.AccessKey(),
		DataEvento: processedAt(resp, now),
	}
}

func processedAt(resp sefaz.Response, now time.Time) time.Time {
	if t, ok := resp.ProcessedAt(); ok {
		return t
	}
	return now
}
