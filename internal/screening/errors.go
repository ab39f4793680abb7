package screening

import "errors"

type ErrorCode string

const (
	ErrorInvalid             ErrorCode = "invalid"
	ErrorNotFound            ErrorCode = "not_found"
	ErrorUnauthorized        ErrorCode = "unauthorized"
	ErrorSessionNotFound     ErrorCode = "session_not_found"
	ErrorStaleAnswer         ErrorCode = "stale_answer"
	ErrorIncompleteScreening ErrorCode = "incomplete_screening"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error      { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error     { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewUnauthorizedError(msg string) error { return &ServiceError{Code: ErrorUnauthorized, Message: msg} }

func NewSessionNotFoundError(msg string) error {
	return &ServiceError{Code: ErrorSessionNotFound, Message: msg}
}

func NewStaleAnswerError(msg string) error {
	return &ServiceError{Code: ErrorStaleAnswer, Message: msg}
}

func NewIncompleteScreeningError(msg string) error {
	return &ServiceError{Code: ErrorIncompleteScreening, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsCode reports whether err is a ServiceError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	se, ok := AsServiceError(err)
	return ok && se.Code == code
}
