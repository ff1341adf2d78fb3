package certificado

import (
	"testing"
	"time"
)

func TestVigente(t *testing.T) {
	validade := time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC)
	c := Certificado{Validade: validade}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"antes do vencimento", validade.Add(-24 * time.Hour), true},
		{"um segundo antes", validade.Add(-time.Second), true},
		{"no instante do vencimento", validade, false},
		{"vencido", validade.Add(time.Hour), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Vigente(tc.now); got != tc.want {
				t.Fatalf("Vigente(%v) = %v", tc.now, got)
			}
		})
	}

	if (Certificado{}).Vigente(validade) {
		t.Fatalf("certificado sem validade não é vigente")
	}
}
