package util

import (
	"errors"
	"net/mail"
	"strings"
)

// ValidateEmail retorna erro para e-mails inválidos.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email obrigatório")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("email inválido")
	}
	return nil
}

// ValidatePassword verifica requisitos mínimos de senha.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("senha deve ter pelo menos 8 caracteres")
	}
	return nil
}

// OnlyDigits remove máscara de documentos (pontos, barras, hífens).
func OnlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidCNPJ confere tamanho e dígitos verificadores. Aceita com ou sem máscara.
func ValidCNPJ(cnpj string) bool {
	d := OnlyDigits(cnpj)
	if len(d) != 14 || repeated(d) {
		return false
	}
	w1 := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	return checkDigit(d[:12], w1) == int(d[12]-'0') &&
		checkDigit(d[:13], w2) == int(d[13]-'0')
}

// ValidCPF confere tamanho e dígitos verificadores.
func ValidCPF(cpf string) bool {
	d := OnlyDigits(cpf)
	if len(d) != 11 || repeated(d) {
		return false
	}
	w1 := []int{10, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}
	return checkDigit(d[:9], w1) == int(d[9]-'0') &&
		checkDigit(d[:10], w2) == int(d[10]-'0')
}

// módulo 11 com resto < 2 virando zero
func checkDigit(digits string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

func repeated(d string) bool {
	return strings.Count(d, d[:1]) == len(d)
}
