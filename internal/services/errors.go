package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid           ErrorCode = "invalid"
	ErrorUnauthorized      ErrorCode = "unauthorized"
	ErrorNotAuthorized     ErrorCode = "not_authorized"
	ErrorNotFound          ErrorCode = "not_found"
	ErrorAlreadyRegistered ErrorCode = "already_registered"
	ErrorNotRegistered     ErrorCode = "not_registered"
	ErrorCapacityExceeded  ErrorCode = "capacity_exceeded"
	ErrorSessionClosed     ErrorCode = "session_closed"
	ErrorAlreadyEnded      ErrorCode = "already_ended"
	ErrorSessionExpired    ErrorCode = "session_expired"
	ErrorNoProposals       ErrorCode = "no_proposals"
)

// ServiceError carries a machine readable code plus a message naming the
// precondition that failed.
type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

// Is matches any ServiceError with the same code, so the sentinels below work
// with errors.Is regardless of message.
func (e *ServiceError) Is(target error) bool {
	var t *ServiceError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

var (
	ErrInvalid           = &ServiceError{Code: ErrorInvalid, Message: "invalid request"}
	ErrUnauthorized      = &ServiceError{Code: ErrorUnauthorized, Message: "unauthorized"}
	ErrNotAuthorized     = &ServiceError{Code: ErrorNotAuthorized, Message: "not authorized"}
	ErrNotFound          = &ServiceError{Code: ErrorNotFound, Message: "not found"}
	ErrAlreadyRegistered = &ServiceError{Code: ErrorAlreadyRegistered, Message: "already registered"}
	ErrNotRegistered     = &ServiceError{Code: ErrorNotRegistered, Message: "participant is not registered"}
	ErrCapacityExceeded  = &ServiceError{Code: ErrorCapacityExceeded, Message: "participant capacity reached"}
	ErrSessionClosed     = &ServiceError{Code: ErrorSessionClosed, Message: "session is ended"}
	ErrAlreadyEnded      = &ServiceError{Code: ErrorAlreadyEnded, Message: "session already ended"}
	ErrSessionExpired    = &ServiceError{Code: ErrorSessionExpired, Message: "session deadline has passed"}
	ErrNoProposals       = &ServiceError{Code: ErrorNoProposals, Message: "session has no proposals"}
)

func NewInvalidError(msg string) error       { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error      { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewNotAuthorizedError(msg string) error { return &ServiceError{Code: ErrorNotAuthorized, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
