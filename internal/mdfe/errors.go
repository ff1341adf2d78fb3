package mdfe

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound       = errors.New("mdfe não encontrado")
	ErrStatusConflict = errors.New("status alterado por outra operação")
)

// Kind classifica falhas do domínio.
type Kind string

const (
	KindUnauthorized   Kind = "UNAUTHORIZED"
	KindValidation     Kind = "VALIDATION_ERROR"
	KindMissingData    Kind = "MISSING_REQUIRED_DATA"
	KindBusinessRule   Kind = "BUSINESS_RULE_VIOLATION"
	KindNotFound       Kind = "MDFE_NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindSefazError     Kind = "SEFAZ_ERROR"
	KindSefazRejection Kind = "SEFAZ_REJECTION"
	KindTimeout        Kind = "TIMEOUT_ERROR"
	KindInternal       Kind = "INTERNAL_ERROR"
)

// Error é o erro tipado devolvido por builder, interpretador e serviço.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus traduz o Kind para o status HTTP da resposta.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation, KindMissingData, KindBusinessRule:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindSefazRejection:
		return http.StatusUnprocessableEntity
	case KindSefazError:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// AsError converte qualquer erro para *Error, tratando desconhecidos como INTERNAL_ERROR.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, ErrNotFound) {
		return newError(KindNotFound, "MDF-e não encontrado", nil)
	}
	if errors.Is(err, ErrStatusConflict) {
		return newError(KindConflict, "status do MDF-e foi alterado por outra operação", nil)
	}
	return internalError("erro interno", err)
}
