package mdfe

import (
	"testing"
	"time"

	"github.com/otenielpinto/mdfe/internal/sefaz"
)

func TestMapToStatus(t *testing.T) {
	tests := []struct {
		cStat int
		want  Status
	}{
		{100, StatusAutorizado},
		{101, StatusCancelado},
		{132, StatusEncerrado},
		{110, StatusDenegado},
		{301, StatusDenegado},
		{302, StatusDenegado},
		{303, StatusDenegado},
		{103, StatusPendente},
		{105, StatusPendente},
		{200, StatusRejeitado},
		{539, StatusRejeitado},
		{999, StatusRejeitado},
		{135, StatusErro},
		{0, StatusErro},
		{-1, StatusErro},
		{1000, StatusErro},
	}
	for _, tc := range tests {
		if got := MapToStatus(tc.cStat); got != tc.want {
			t.Errorf("MapToStatus(%d) = %s, want %s", tc.cStat, got, tc.want)
		}
	}
}

func TestMapToStatusTotal(t *testing.T) {
	for c := -10; c <= 1100; c++ {
		if !MapToStatus(c).Valid() {
			t.Fatalf("MapToStatus(%d) fora do enum", c)
		}
	}
}

func TestEventAcceptance(t *testing.T) {
	tests := []struct {
		name    string
		resp    sefaz.Response
		event   bool
		closure bool
	}{
		{"135 direto", sefaz.Response{CStat: 135}, true, true},
		{"136 direto", sefaz.Response{CStat: 136}, true, false},
		{"631 direto", sefaz.Response{CStat: 631}, false, true},
		{"lote 128 com retEvento 135", sefaz.Response{CStat: 128, RetEvento: &sefaz.RetEvento{CStat: 135}}, true, true},
		{"lote 128 com retEvento 573", sefaz.Response{CStat: 128, RetEvento: &sefaz.RetEvento{CStat: 573}}, false, false},
		{"retEvento sem cStat usa o externo", sefaz.Response{CStat: 135, RetEvento: &sefaz.RetEvento{}}, true, true},
		{"rejeição", sefaz.Response{CStat: 218}, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsEventAccepted(tc.resp); got != tc.event {
				t.Errorf("IsEventAccepted = %v, want %v", got, tc.event)
			}
			if got := IsClosureAccepted(tc.resp); got != tc.closure {
				t.Errorf("IsClosureAccepted = %v, want %v", got, tc.closure)
			}
		})
	}
}

func TestInterpretEnvio(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, brt)

	it := InterpretEnvio(sefaz.Response{
		CStat:             100,
		Protocolo:         testProtocolo,
		ChMDFe:            testChave,
		DataProcessamento: "2026-03-10T11:59:30-03:00",
	}, now)
	if !it.Aceito || it.NovoStatus != StatusAutorizado || it.Chave != testChave || it.Protocolo != testProtocolo {
		t.Fatalf("interpretação = %+v", it)
	}
	if want := time.Date(2026, 3, 10, 11, 59, 30, 0, brt); !it.DataEvento.Equal(want) {
		t.Fatalf("data = %v", it.DataEvento)
	}

	it = InterpretEnvio(sefaz.Response{CStat: 204, XMotivo: "Rejeição: Duplicidade"}, now)
	if it.Aceito || it.NovoStatus != StatusRejeitado || !it.DataEvento.Equal(now) {
		t.Fatalf("interpretação = %+v", it)
	}
}

func TestInterpretEventos(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, brt)
	aceito := sefaz.Response{CStat: 128, RetEvento: &sefaz.RetEvento{CStat: 135, XMotivo: "Evento registrado", NProt: "935260000000099"}}
	rejeitado := sefaz.Response{CStat: 128, XMotivo: "Lote processado", RetEvento: &sefaz.RetEvento{CStat: 218, XMotivo: "Rejeição: MDF-e já cancelado"}}

	it := InterpretCancelamento(aceito, now)
	if !it.Aceito || it.NovoStatus != StatusCancelado || it.CStat != 135 || it.Protocolo != "935260000000099" {
		t.Fatalf("cancelamento = %+v", it)
	}
	it = InterpretCancelamento(rejeitado, now)
	if it.Aceito || it.NovoStatus != "" || it.CStat != 218 || it.Motivo != "Rejeição: MDF-e já cancelado" {
		t.Fatalf("cancelamento rejeitado = %+v", it)
	}

	it = InterpretEncerramento(sefaz.Response{CStat: 631}, now)
	if !it.Aceito || it.NovoStatus != StatusEncerrado {
		t.Fatalf("encerramento = %+v", it)
	}
	// 136 aceita cancelamento mas não encerramento
	it = InterpretEncerramento(sefaz.Response{CStat: 136}, now)
	if it.Aceito || it.NovoStatus != "" {
		t.Fatalf("encerramento 136 = %+v", it)
	}
}
