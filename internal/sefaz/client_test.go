package sefaz

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", Token: "tok", Timeout: time.Second, EnvioTimeout: 2 * time.Second})
}

func TestDoSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"cStat":100,"xMotivo":"Autorizado o uso do MDF-e","protocolo":"935260000000001","chMDFe":"35260311222333000181580010000000011000000010","dataProcessamento":"2026-03-10T10:00:00-03:00"}`))
	})

	res := c.Do(context.Background(), OperacaoEnvio, map[string]any{"mdfeId": "abc"})
	if !res.Success || res.Data == nil {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if gotPath != "/envio" || gotAuth != "Bearer tok" || gotBody["mdfeId"] != "abc" {
		t.Fatalf("request path=%q auth=%q body=%v", gotPath, gotAuth, gotBody)
	}
	if int(res.Data.CStat) != 100 || res.Data.AccessKey() == "" {
		t.Fatalf("response = %+v", res.Data)
	}
	if _, ok := res.Data.ProcessedAt(); !ok {
		t.Fatalf("dataProcessamento not parsed")
	}
	if !res.Completed || res.HTTPStatus != http.StatusOK {
		t.Fatalf("completed=%v status=%d", res.Completed, res.HTTPStatus)
	}
}

func TestDoStringCStatAndRetEvento(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cStat":"128","xMotivo":"Lote processado","retEvento":{"cStat":"135","xMotivo":"Evento registrado","nProt":"935260000000002"}}`))
	})

	res := c.Do(context.Background(), OperacaoCancelamento, nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if res.Data.EventCStat() != 135 || res.Data.EventProtocolo() != "935260000000002" {
		t.Fatalf("event cStat=%d prot=%q", res.Data.EventCStat(), res.Data.EventProtocolo())
	}
}

func TestDoNon2xx(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream indisponível"))
	})

	res := c.Do(context.Background(), OperacaoConsulta, nil)
	if res.Success || res.Error == nil || res.Error.Code != CodeSefazError {
		t.Fatalf("expected SEFAZ_ERROR, got %+v", res)
	}
	if !res.Completed || res.HTTPStatus != http.StatusBadGateway {
		t.Fatalf("non-2xx must be completed with status, got %v/%d", res.Completed, res.HTTPStatus)
	}
	if res.Error.Details["body"] != "upstream indisponível" {
		t.Fatalf("details = %v", res.Error.Details)
	}
	if !json.Valid(res.RawResponse) {
		t.Fatalf("raw response must be valid json: %s", res.RawResponse)
	}
}

func TestDoMalformedJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cStat":`))
	})

	res := c.Do(context.Background(), OperacaoEnvio, nil)
	if res.Success || res.Error.Code != CodeInternal || !res.Completed {
		t.Fatalf("expected completed INTERNAL_ERROR, got %+v", res)
	}
}

func TestDoMissingCStat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"xMotivo":"ok"}`))
	})

	res := c.Do(context.Background(), OperacaoEnvio, nil)
	if res.Success || res.Error.Code != CodeInternal {
		t.Fatalf("expected INTERNAL_ERROR, got %+v", res)
	}
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{BaseURL: srv.URL, Token: "tok", Timeout: 50 * time.Millisecond})
	res := c.Do(context.Background(), OperacaoCancelamento, nil)
	if res.Success || res.Error.Code != CodeTimeout {
		t.Fatalf("expected TIMEOUT_ERROR, got %+v", res.Error)
	}
	if res.Completed {
		t.Fatalf("timeout must not be completed")
	}
}

func TestDoMissingConfig(t *testing.T) {
	c := New(Config{})
	res := c.Do(context.Background(), OperacaoStatus, nil)
	if res.Success || res.Error.Code != CodeInternal || res.Completed {
		t.Fatalf("expected INTERNAL_ERROR without network, got %+v", res)
	}
}

func TestTimeoutFor(t *testing.T) {
	c := New(Config{BaseURL: "http://x", Token: "t"})
	if c.TimeoutFor(OperacaoEnvio) != defaultEnvioTimeout || c.TimeoutFor(OperacaoCancelamento) != defaultTimeout {
		t.Fatalf("defaults not applied")
	}
}
