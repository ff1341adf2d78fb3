package municipio

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

type stubStore struct {
	byNome   map[string]Municipio
	byCodigo map[int]Municipio
	calls    int
}

func (s *stubStore) FindByNome(ctx context.Context, uf, nome string) (*Municipio, error) {
	s.calls++
	m, ok := s.byNome[uf+"|"+nome]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *stubStore) FindByCodigo(ctx context.Context, codigo int) (*Municipio, error) {
	m, ok := s.byCodigo[codigo]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"São Paulo", "SAO PAULO"},
		{"  santa   bárbara ", "SANTA BARBARA"},
		{"São João d'Aliança", "SAO JOAO D ALIANCA"},
		{"Mogi-Guaçu", "MOGI GUACU"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolve(t *testing.T) {
	store := &stubStore{
		byNome: map[string]Municipio{
			"SP|SAO PAULO": {CodigoIBGE: 3550308, UF: "SP", Nome: "São Paulo"},
		},
	}
	svc := NewService(store, nil, 0, zerolog.Nop())

	code, found, err := svc.Resolve(context.Background(), "sp", "sao paulo")
	if err != nil || !found || code != 3550308 {
		t.Fatalf("unexpected result code=%d found=%v err=%v", code, found, err)
	}

	_, found, err = svc.Resolve(context.Background(), "SP", "Cidade Inexistente")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}

	_, found, _ = svc.Resolve(context.Background(), "SP", "   ")
	if found {
		t.Fatalf("blank name must not resolve")
	}
	if store.calls != 2 {
		t.Fatalf("blank name must not hit the store, calls=%d", store.calls)
	}
}

func TestExists(t *testing.T) {
	store := &stubStore{
		byCodigo: map[int]Municipio{
			3550308: {CodigoIBGE: 3550308, UF: "SP", Nome: "São Paulo"},
		},
	}
	svc := NewService(store, nil, 0, zerolog.Nop())

	if ok, _ := svc.Exists(context.Background(), "SP", 3550308); !ok {
		t.Fatalf("expected code to exist in SP")
	}
	if ok, _ := svc.Exists(context.Background(), "RJ", 3550308); ok {
		t.Fatalf("code from SP must not match RJ")
	}
	if ok, _ := svc.Exists(context.Background(), "SP", 1); ok {
		t.Fatalf("unknown code must not exist")
	}
}
