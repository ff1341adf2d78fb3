package mdfe

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/otenielpinto/mdfe/internal/certificado"
	"github.com/otenielpinto/mdfe/internal/lock"
	"github.com/otenielpinto/mdfe/internal/notify"
	"github.com/otenielpinto/mdfe/internal/sefaz"
)

const (
	testChave     = "35260311222333000181580010000000011000000010"
	testProtocolo = "935260000000001"
)

var brt = time.FixedZone("BRT", -3*60*60)

type memStore struct {
	mu       sync.Mutex
	docs     map[uuid.UUID]*Documento
	eventos  []Evento
	retornos []Retorno
	numeros  map[int]int

	commitErr error
	countErr  error
}

func newMemStore() *memStore {
	return &memStore{docs: map[uuid.UUID]*Documento{}, numeros: map[int]int{}}
}

func (s *memStore) put(doc Documento) *Documento {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	s.docs[doc.ID] = &doc
	return &doc
}

func (s *memStore) doc(id uuid.UUID) Documento {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.docs[id]
}

func (s *memStore) setStatus(id uuid.UUID, st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id].Status = st
}

func (s *memStore) owned(u Usuario, id uuid.UUID) (*Documento, bool) {
	d, ok := s.docs[id]
	if !ok || d.TenantID != u.TenantID || d.EmpresaID != u.EmpresaID {
		return nil, false
	}
	return d, true
}

func (s *memStore) Get(_ context.Context, u Usuario, id uuid.UUID) (*Documento, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.owned(u, id)
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) List(_ context.Context, u Usuario, f Filtro) ([]Documento, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Documento{}
	for _, d := range s.docs {
		if d.TenantID == u.TenantID && d.EmpresaID == u.EmpresaID && (f.Status == "" || d.Status == f.Status) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *memStore) Create(_ context.Context, u Usuario, sec Secoes) (*Documento, error) {
	doc := s.put(Documento{TenantID: u.TenantID, EmpresaID: u.EmpresaID, Status: StatusPendente, Secoes: sec})
	return doc, nil
}

func (s *memStore) UpdateSecoes(_ context.Context, u Usuario, id uuid.UUID, sec Secoes) (*Documento, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.owned(u, id)
	if !ok {
		return nil, ErrNotFound
	}
	if !d.Status.Editable() {
		return nil, ErrStatusConflict
	}
	if sec.Ide.NMDF <= 0 && d.Ide.NMDF > 0 {
		sec.Ide.NMDF, sec.Ide.Serie = d.Ide.NMDF, d.Ide.Serie
	}
	d.Secoes = sec
	if d.Status == StatusRejeitado {
		d.Status = StatusPendente
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) AssignNumero(_ context.Context, u Usuario, id uuid.UUID, serie int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.owned(u, id)
	if !ok || d.Ide.NMDF > 0 {
		return 0, ErrStatusConflict
	}
	s.numeros[serie]++
	d.Ide.NMDF = s.numeros[serie]
	return d.Ide.NMDF, nil
}

func (s *memStore) applyStatus(u Usuario, upd StatusUpdate) error {
	d, ok := s.owned(u, upd.MdfeID)
	if !ok {
		return ErrStatusConflict
	}
	allowed := false
	for _, st := range upd.Expected {
		if d.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return ErrStatusConflict
	}
	d.Status = upd.Status
	if upd.Protocolo != "" {
		d.Protocolo = upd.Protocolo
	}
	if upd.Chave != "" {
		d.Chave = upd.Chave
	}
	if upd.DataAutorizacao != nil {
		t := *upd.DataAutorizacao
		d.DataAutorizacao = &t
	}
	return nil
}

func (s *memStore) UpdateStatus(_ context.Context, u Usuario, upd StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyStatus(u, upd)
}

func (s *memStore) CommitTransition(_ context.Context, u Usuario, ev *Evento, upd StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	if err := s.applyStatus(u, upd); err != nil {
		return err
	}
	s.eventos = append(s.eventos, *ev)
	return nil
}

func (s *memStore) CountEventos(_ context.Context, _ Usuario, id uuid.UUID, tipo string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	n := 0
	for _, ev := range s.eventos {
		if ev.MdfeID == id && ev.TipoEvento == tipo {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListEventos(_ context.Context, _ Usuario, id uuid.UUID) ([]Evento, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Evento{}
	for _, ev := range s.eventos {
		if ev.MdfeID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memStore) InsertEvento(_ context.Context, ev *Evento) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventos = append(s.eventos, *ev)
	return nil
}

func (s *memStore) InsertRetorno(_ context.Context, ret *Retorno) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retornos = append(s.retornos, *ret)
	return nil
}

type gatewayCall struct {
	op      sefaz.Operacao
	payload any
}

type stubGateway struct {
	results map[sefaz.Operacao]sefaz.Result
	calls   []gatewayCall
	// before roda antes de devolver o resultado (simula concorrência durante a chamada)
	before func()
}

func (g *stubGateway) Do(_ context.Context, op sefaz.Operacao, payload any) sefaz.Result {
	g.calls = append(g.calls, gatewayCall{op: op, payload: payload})
	if g.before != nil {
		g.before()
	}
	res, ok := g.results[op]
	if !ok {
		return sefaz.Result{Error: &sefaz.Error{Code: sefaz.CodeInternal, Message: "sem resposta configurada"}}
	}
	return res
}

func okResult(resp sefaz.Response) sefaz.Result {
	return sefaz.Result{Success: true, Data: &resp, Completed: true, HTTPStatus: 200, RawResponse: []byte(`{}`)}
}

func timeoutResult() sefaz.Result {
	return sefaz.Result{Error: &sefaz.Error{Code: sefaz.CodeTimeout, Message: "gateway não respondeu"}}
}

type stubLookup struct {
	nomes   map[string]int
	codigos map[int]string
}

func (l *stubLookup) Resolve(_ context.Context, uf, nome string) (int, bool, error) {
	code, ok := l.nomes[strings.ToUpper(uf)+"|"+strings.ToUpper(strings.TrimSpace(nome))]
	return code, ok, nil
}

func (l *stubLookup) Exists(_ context.Context, uf string, codigo int) (bool, error) {
	return l.codigos[codigo] == strings.ToUpper(uf), nil
}

type stubCerts struct {
	cert *certificado.Certificado
	err  error
}

func (c *stubCerts) Current(context.Context, uuid.UUID, uuid.UUID) (*certificado.Certificado, error) {
	return c.cert, c.err
}

type stubLocker struct {
	held     map[string]bool
	err      error
	released []string
}

func (l *stubLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context), error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, lock.ErrNotAcquired
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	l.held[key] = true
	return func(context.Context) {
		delete(l.held, key)
		l.released = append(l.released, key)
	}, nil
}

type stubPublisher struct {
	keys []string
	msgs []Transition
}

func (p *stubPublisher) Publish(_ context.Context, key string, payload any) error {
	p.keys = append(p.keys, key)
	if msg, ok := payload.(Transition); ok {
		p.msgs = append(p.msgs, msg)
	}
	return nil
}

type stubNotifier struct {
	alerts []notify.Alert
}

func (n *stubNotifier) Notify(_ context.Context, a notify.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

type fixture struct {
	store    *memStore
	gw       *stubGateway
	certs    *stubCerts
	locker   *stubLocker
	pub      *stubPublisher
	notifier *stubNotifier
	svc      *Service
	user     Usuario
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, brt)
	f := &fixture{
		store: newMemStore(),
		gw:    &stubGateway{results: map[sefaz.Operacao]sefaz.Result{}},
		certs: &stubCerts{cert: &certificado.Certificado{
			ID:       uuid.New(),
			Validade: now.AddDate(1, 0, 0),
		}},
		locker:   &stubLocker{},
		pub:      &stubPublisher{},
		notifier: &stubNotifier{},
		user:     Usuario{ID: uuid.New(), TenantID: uuid.New(), EmpresaID: uuid.New()},
		now:      now,
	}
	lookup := &stubLookup{
		nomes:   map[string]int{"RJ|RIO DE JANEIRO": 3304557, "SP|SAO PAULO": 3550308},
		codigos: map[int]string{3304557: "RJ", 3550308: "SP"},
	}
	f.svc = NewService(Deps{
		Store:        f.store,
		Gateway:      f.gw,
		Municipios:   lookup,
		Certificados: f.certs,
		Locker:       f.locker,
		Notifier:     f.notifier,
		Publisher:    f.pub,
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return now },
	})
	return f
}

func validSecoes() Secoes {
	return Secoes{
		Ide: Ide{
			TpAmb:         2,
			TpEmit:        1,
			Serie:         1,
			Modal:         ModalRodoviario,
			UFIni:         "SP",
			UFFim:         "RJ",
			InfMunCarrega: []MunCarrega{{CMunCarrega: 3550308, XMunCarrega: "São Paulo"}},
		},
		Emit: Emit{
			CNPJ:  "11.222.333/0001-81",
			IE:    "123456789110",
			XNome: "Transportes Exemplo Ltda",
			EnderEmit: EnderEmit{
				XLgr: "Rua A", Nro: "100", XBairro: "Centro",
				CMun: 3550308, XMun: "São Paulo", UF: "SP",
			},
		},
		Rodo: &Rodo{VeicTracao: Veiculo{
			Placa:    "ABC1D23",
			Tara:     8000,
			Condutor: []Condutor{{XNome: "João da Silva", CPF: "52998224725"}},
		}},
		InfDoc: InfDoc{InfMunDescarga: []MunDescarga{{
			CMunDescarga: 3304557,
			XMunDescarga: "Rio de Janeiro",
			InfNFe:       []InfNFe{{ChNFe: "35260311222333000181550010000000011000000015"}},
		}}},
		Tot: Tot{QNFe: 1, VCarga: 15000, CUnid: "01", QCarga: 1200},
	}
}

func (f *fixture) pendente() *Documento {
	return f.store.put(Documento{
		TenantID:  f.user.TenantID,
		EmpresaID: f.user.EmpresaID,
		Status:    StatusPendente,
		Secoes:    validSecoes(),
	})
}

func (f *fixture) autorizado(autorizadoEm time.Time) *Documento {
	sec := validSecoes()
	sec.Ide.NMDF = 1
	return f.store.put(Documento{
		TenantID:        f.user.TenantID,
		EmpresaID:       f.user.EmpresaID,
		Status:          StatusAutorizado,
		Chave:           testChave,
		Protocolo:       testProtocolo,
		DataAutorizacao: &autorizadoEm,
		Secoes:          sec,
	})
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", kind)
	}
	de := AsError(err)
	if de.Kind != kind {
		t.Fatalf("expected %s, got %s (%s)", kind, de.Kind, de.Message)
	}
	return de
}
