package auth

import (
	"errors"

	"github.com/alexedwards/argon2id"
)

var params = &argon2id.Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  3,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Hash gera um hash Argon2id (os parâmetros ficam no próprio hash).
func Hash(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("senha deve ter pelo menos 8 caracteres")
	}
	return argon2id.CreateHash(password, params)
}

// Verify compara a senha com o hash armazenado.
func Verify(password, encodedHash string) (bool, error) {
	return argon2id.ComparePasswordAndHash(password, encodedHash)
}
