package sefaz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultEnvioTimeout = 60 * time.Second
	maxResponseBytes    = 8 << 20
)

// Config descreve credenciais e limites do gateway fiscal.
type Config struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	EnvioTimeout time.Duration
	HTTPClient   *http.Client
}

// Client encapsula as chamadas ao gateway fiscal (SEFAZ).
type Client struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	timeout      time.Duration
	envioTimeout time.Duration
}

// New cria o cliente. URL e token ausentes não impedem a criação: cada chamada
// responde INTERNAL_ERROR até que a configuração exista.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	envioTimeout := cfg.EnvioTimeout
	if envioTimeout <= 0 {
		envioTimeout = defaultEnvioTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// O limite efetivo vem do contexto de cada operação.
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient:   httpClient,
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:        strings.TrimSpace(cfg.Token),
		timeout:      timeout,
		envioTimeout: envioTimeout,
	}
}

// TimeoutFor devolve o limite aplicado a uma operação.
func (c *Client) TimeoutFor(op Operacao) time.Duration {
	if op == OperacaoEnvio {
		return c.envioTimeout
	}
	return c.timeout
}

// Do executa um round trip POST <baseURL>/<op>. Nunca devolve erro: toda falha
// vira Result{Success:false}.
func (c *Client) Do(ctx context.Context, op Operacao, payload any) (result Result) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = failure(CodeInternal, "falha inesperada ao chamar o gateway", map[string]any{"panic": fmt.Sprint(rec)})
		}
		result.Duration = time.Since(start)
	}()

	if c.baseURL == "" || c.token == "" {
		return failure(CodeInternal, "configuração do gateway ausente (SEFAZ_API_URL/SEFAZ_API_TOKEN)", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failure(CodeInternal, "não foi possível serializar o payload", map[string]any{"cause": err.Error()})
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.TimeoutFor(op))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/"+string(op), bytes.NewReader(body))
	if err != nil {
		return failure(CodeInternal, "não foi possível montar a requisição", map[string]any{"cause": err.Error()})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(reqCtx, err) {
			return failure(CodeTimeout, fmt.Sprintf("gateway não respondeu em %s", c.TimeoutFor(op)), map[string]any{"operacao": string(op)})
		}
		return failure(CodeSefazError, "falha de comunicação com o gateway", map[string]any{"cause": err.Error(), "operacao": string(op)})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(reqCtx, err) {
			return failure(CodeTimeout, fmt.Sprintf("gateway não respondeu em %s", c.TimeoutFor(op)), map[string]any{"operacao": string(op)})
		}
		return failure(CodeSefazError, "falha ao ler resposta do gateway", map[string]any{"cause": err.Error()})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		details := map[string]any{"httpStatus": resp.StatusCode, "operacao": string(op)}
		message := fmt.Sprintf("gateway respondeu HTTP %d", resp.StatusCode)
		var parsed Response
		if json.Unmarshal(raw, &parsed) == nil && parsed.CStat != 0 {
			details["cStat"] = int(parsed.CStat)
			details["xMotivo"] = parsed.XMotivo
			if strings.TrimSpace(parsed.XMotivo) != "" {
				message = parsed.XMotivo
			}
		} else if len(raw) > 0 {
			details["body"] = truncate(string(raw), 512)
		}
		res := failure(CodeSefazError, message, details)
		res.Completed = true
		res.HTTPStatus = resp.StatusCode
		res.RawResponse = jsonOrString(raw)
		return res
	}

	var parsed Response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		res := failure(CodeInternal, "resposta do gateway não é um JSON válido", map[string]any{"cause": err.Error()})
		res.Completed = true
		res.HTTPStatus = resp.StatusCode
		res.RawResponse = jsonOrString(raw)
		return res
	}
	if parsed.CStat == 0 && (parsed.RetEvento == nil || parsed.RetEvento.CStat == 0) {
		res := failure(CodeInternal, "resposta do gateway sem cStat", nil)
		res.Completed = true
		res.HTTPStatus = resp.StatusCode
		res.RawResponse = jsonOrString(raw)
		return res
	}

	return Result{
		Success:     true,
		Data:        &parsed,
		Completed:   true,
		HTTPStatus:  resp.StatusCode,
		RawResponse: json.RawMessage(raw),
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// jsonOrString garante que o corpo possa ser gravado numa coluna jsonb.
func jsonOrString(raw []byte) json.RawMessage {
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	encoded, _ := json.Marshal(string(raw))
	return encoded
}
