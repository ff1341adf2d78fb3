package mdfe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBuildEnvio(t *testing.T) {
	sec := validSecoes()
	sec.Ide.NMDF = 7
	doc := &Documento{ID: uuid.New(), TenantID: uuid.New(), EmpresaID: uuid.New(), Status: StatusPendente, Secoes: sec}

	p, derr := BuildEnvio(doc)
	if derr != nil {
		t.Fatalf("unexpected error: %v", derr)
	}
	if p.MdfeID != doc.ID.String() || p.IDTenant != doc.TenantID.String() || p.Ide.CUF != 35 || p.Ide.NMDF != 7 {
		t.Fatalf("payload = %+v", p)
	}
	if doc.Ide.CUF != 0 {
		t.Fatalf("documento não deve ser alterado pelo builder")
	}
}

func TestBuildEnvioCamposAusentes(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Secoes)
		campo string
	}{
		{"sem numero", func(s *Secoes) { s.Ide.NMDF = 0 }, "ide.nMDF"},
		{"sem placa", func(s *Secoes) { s.Rodo.VeicTracao.Placa = "" }, "rodo.veicTracao.placa"},
		{"sem condutor", func(s *Secoes) { s.Rodo.VeicTracao.Condutor = nil }, "rodo.veicTracao.condutor"},
		{"modal desconhecido", func(s *Secoes) { s.Ide.Modal = "9" }, "ide.modal"},
		{"aquaviario sem irin", func(s *Secoes) { s.Ide.Modal = ModalAquaviario }, "aquav.irin"},
		{"descarga sem documentos", func(s *Secoes) { s.InfDoc.InfMunDescarga[0].InfNFe = nil }, "infDoc.infMunDescarga[0].documentos"},
		{"sem unidade", func(s *Secoes) { s.Tot.CUnid = " " }, "tot.cUnid"},
		{"uf invalida", func(s *Secoes) { s.Ide.UFFim = "ZZ" }, "ide.UFFim"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sec := validSecoes()
			sec.Ide.NMDF = 1
			tc.edit(&sec)

			_, derr := BuildEnvio(&Documento{ID: uuid.New(), Secoes: sec})
			if derr == nil || derr.Kind != KindMissingData {
				t.Fatalf("got %v", derr)
			}
			campos, _ := derr.Details["campos"].([]string)
			found := false
			for _, c := range campos {
				if c == tc.campo {
					found = true
				}
			}
			if !found {
				t.Fatalf("campo %s ausente de %v", tc.campo, campos)
			}
		})
	}
}

func authorizedDoc(authAt time.Time) *Documento {
	sec := validSecoes()
	sec.Ide.NMDF = 1
	return &Documento{
		ID:              uuid.New(),
		TenantID:        uuid.New(),
		EmpresaID:       uuid.New(),
		Status:          StatusAutorizado,
		Chave:           testChave,
		Protocolo:       testProtocolo,
		DataAutorizacao: &authAt,
		Secoes:          sec,
	}
}

func TestBuildCancelamentoJustificativa(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, brt)
	doc := authorizedDoc(now.Add(-time.Hour))

	tests := []struct {
		name string
		just string
		ok   bool
	}{
		{"14 caracteres", strings.Repeat("a", 14), false},
		{"15 caracteres", strings.Repeat("a", 15), true},
		{"15 com acento", strings.Repeat("ç", 15), true},
		{"255 caracteres", strings.Repeat("é", 255), true},
		{"256 caracteres", strings.Repeat("a", 256), false},
		{"espacos nao contam", "   " + strings.Repeat("a", 14) + "   ", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, derr := BuildCancelamento(doc, CancelamentoInput{MdfeID: doc.ID, Justificativa: tc.just}, 1, now)
			if tc.ok {
				if derr != nil {
					t.Fatalf("unexpected error: %v", derr)
				}
				if p.TpEvento != TipoEventoCancelamento || p.CNPJ != "11222333000181" || p.CUF != 35 || p.DhEvento != "2026-03-10T12:00:00-03:00" {
					t.Fatalf("payload = %+v", p)
				}
				return
			}
			if derr == nil || derr.Kind != KindValidation {
				t.Fatalf("got %v", derr)
			}
		})
	}
}

func TestBuildEventoUFPelaChave(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, brt)
	doc := authorizedDoc(now.Add(-time.Hour))
	doc.Emit.EnderEmit.UF = ""
	doc.Ide.UFIni = ""

	p, derr := BuildCancelamento(doc, CancelamentoInput{Justificativa: strings.Repeat("x", 20)}, 0, now)
	if derr != nil {
		t.Fatalf("unexpected error: %v", derr)
	}
	if p.UF != "SP" || p.CUF != 35 || p.NSeqEvento != 1 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestBuildEncerramento(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, brt)
	lookup := &stubLookup{
		nomes:   map[string]int{"RJ|RIO DE JANEIRO": 3304557},
		codigos: map[int]string{3304557: "RJ", 3550308: "SP"},
	}

	tests := []struct {
		name   string
		authAt time.Time
		in     EncerramentoInput
		kind   Kind
		cMun   int
		dtEnc  string
	}{
		{
			name:   "por nome",
			authAt: now.Add(-72 * time.Hour),
			in:     EncerramentoInput{UFEncerramento: "RJ", MunicipioEncerramento: "rio de janeiro"},
			cMun:   3304557,
			dtEnc:  "2026-03-10",
		},
		{
			name:   "por codigo sem nome",
			authAt: now.Add(-72 * time.Hour),
			in:     EncerramentoInput{UFEncerramento: "RJ", CodigoMunicipio: 3304557, DataEncerramento: "2026-03-09"},
			cMun:   3304557,
			dtEnc:  "2026-03-09",
		},
		{
			name:   "codigo de outra uf",
			authAt: now.Add(-72 * time.Hour),
			in:     EncerramentoInput{UFEncerramento: "RJ", CodigoMunicipio: 3550308},
			kind:   KindMissingData,
		},
		{
			name:   "nome desconhecido",
			authAt: now.Add(-72 * time.Hour),
			in:     EncerramentoInput{UFEncerramento: "RJ", MunicipioEncerramento: "Atlântida"},
			kind:   KindMissingData,
		},
		{
			name:   "sem municipio",
			authAt: now.Add(-72 * time.Hour),
			in:     EncerramentoInput{UFEncerramento: "RJ"},
			kind:   KindMissingData,
		},
		{
			name:   "uf invalida",
			authAt: now.Add(-72 * time.Hour),
			in:     EncerramentoInput{UFEncerramento: "XX", MunicipioEncerramento: "Rio de Janeiro"},
			kind:   KindValidation,
		},
		{
			name:   "data no futuro",
			authAt: now.Add(-72 * time.Hour),
			in:     EncerramentoInput{UFEncerramento: "RJ", MunicipioEncerramento: "Rio de Janeiro", DataEncerramento: "2026-03-11"},
			kind:   KindValidation,
		},
		{
			name:   "data anterior a autorizacao",
			authAt: now.Add(-24 * time.Hour),
			in:     EncerramentoInput{UFEncerramento: "RJ", MunicipioEncerramento: "Rio de Janeiro", DataEncerramento: "2026-03-08"},
			kind:   KindValidation,
		},
		{
			name:   "mesmo dia da autorizacao",
			authAt: time.Date(2026, 3, 9, 15, 0, 0, 0, brt),
			in:     EncerramentoInput{UFEncerramento: "RJ", MunicipioEncerramento: "Rio de Janeiro", DataEncerramento: "2026-03-09"},
			cMun:   3304557,
			dtEnc:  "2026-03-09",
		},
		{
			name:   "data invalida",
			authAt: now.Add(-72 * time.Hour),
			in:     EncerramentoInput{UFEncerramento: "RJ", MunicipioEncerramento: "Rio de Janeiro", DataEncerramento: "10/03/2026"},
			kind:   KindValidation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := authorizedDoc(tc.authAt)
			p, derr := BuildEncerramento(context.Background(), doc, tc.in, lookup, 1, now)
			if tc.kind != "" {
				if derr == nil || derr.Kind != tc.kind {
					t.Fatalf("expected %s, got %v", tc.kind, derr)
				}
				return
			}
			if derr != nil {
				t.Fatalf("unexpected error: %v", derr)
			}
			if p.CMun != tc.cMun || p.DtEnc != tc.dtEnc || p.TpEvento != TipoEventoEncerramento || p.CUFEncerramento != 33 {
				t.Fatalf("payload = %+v", p)
			}
		})
	}
}

func TestCodigoUF(t *testing.T) {
	if c, ok := CodigoUF(" sp "); !ok || c != 35 {
		t.Fatalf("SP = %d %v", c, ok)
	}
	if _, ok := CodigoUF("EX"); ok {
		t.Fatalf("EX não é UF")
	}
	if len(codigosUF) != 27 {
		t.Fatalf("esperado 27 UFs, got %d", len(codigosUF))
	}
}
