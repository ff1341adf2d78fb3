package sefaz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Códigos de falha devolvidos no ramo Success=false.
const (
	CodeSefazError = "SEFAZ_ERROR"
	CodeTimeout    = "TIMEOUT_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
)

// Operacao é o sufixo de rota no gateway: POST <baseURL>/<operacao>.
type Operacao string

const (
	OperacaoEnvio        Operacao = "envio"
	OperacaoCancelamento Operacao = "cancelamento"
	OperacaoEncerramento Operacao = "encerramento"
	OperacaoConsulta     Operacao = "consulta"
	OperacaoStatus       Operacao = "status"
)

// CStat aceita o código tanto como número quanto como string ("100").
type CStat int

func (c *CStat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*c = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("cStat inválido: %q", s)
		}
		*c = CStat(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = CStat(n)
	return nil
}

// RetEvento é o retorno embutido de um evento (cancelamento/encerramento).
type RetEvento struct {
	CStat       CStat  `json:"cStat"`
	XMotivo     string `json:"xMotivo"`
	NProt       string `json:"nProt"`
	DhRegEvento string `json:"dhRegEvento"`
}

// Response é o corpo JSON devolvido pelo gateway.
type Response struct {
	CStat             CStat      `json:"cStat"`
	XMotivo           string     `json:"xMotivo"`
	Protocolo         string     `json:"protocolo,omitempty"`
	Chave             string     `json:"chave,omitempty"`
	ChMDFe            string     `json:"chMDFe,omitempty"`
	DataProcessamento string     `json:"dataProcessamento,omitempty"`
	XML               string     `json:"xml,omitempty"`
	PDFBase64         string     `json:"pdfBase64,omitempty"`
	RetEvento         *RetEvento `json:"retEvento,omitempty"`
}

// AccessKey devolve a chave de acesso, aceitando os dois nomes usados pelo gateway.
func (r Response) AccessKey() string {
	if k := strings.TrimSpace(r.Chave); k != "" {
		return k
	}
	return strings.TrimSpace(r.ChMDFe)
}

// EventCStat prioriza o cStat do retEvento, quando presente.
func (r Response) EventCStat() int {
	if r.RetEvento != nil && r.RetEvento.CStat != 0 {
		return int(r.RetEvento.CStat)
	}
	return int(r.CStat)
}

// EventMotivo acompanha EventCStat.
func (r Response) EventMotivo() string {
	if r.RetEvento != nil && r.RetEvento.CStat != 0 {
		return r.RetEvento.XMotivo
	}
	return r.XMotivo
}

// EventProtocolo acompanha EventCStat.
func (r Response) EventProtocolo() string {
	if r.RetEvento != nil && strings.TrimSpace(r.RetEvento.NProt) != "" {
		return strings.TrimSpace(r.RetEvento.NProt)
	}
	return strings.TrimSpace(r.Protocolo)
}

// ProcessedAt interpreta dataProcessamento (ou dhRegEvento) quando possível.
func (r Response) ProcessedAt() (time.Time, bool) {
	candidates := []string{r.DataProcessamento}
	if r.RetEvento != nil {
		candidates = append([]string{r.RetEvento.DhRegEvento}, candidates...)
	}
	for _, raw := range candidates {
		if t, ok := ParseDateTime(raw); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDateTime aceita os formatos de data/hora vistos nas respostas do gateway.
func ParseDateTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Error descreve a falha normalizada do gateway.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Result é o resultado discriminado de uma chamada: Data quando Success, Error caso contrário.
// Completed indica que houve resposta HTTP (mesmo não-2xx); RawResponse guarda o corpo recebido.
type Result struct {
	Success     bool
	Data        *Response
	Error       *Error
	Completed   bool
	HTTPStatus  int
	RawResponse json.RawMessage
	Duration    time.Duration
}

func failure(code, message string, details map[string]any) Result {
	return Result{Success: false, Error: &Error{Code: code, Message: message, Details: details}}
}
