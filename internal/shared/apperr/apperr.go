package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	Invalid             Kind = "invalid"
	NotFound            Kind = "not_found"
	Unauthorized        Kind = "unauthorized"
	Forbidden           Kind = "forbidden"
	Conflict            Kind = "conflict"
	InvalidState        Kind = "invalid_state"
	VerificationFailed  Kind = "verification_failed"
	ProviderUnavailable Kind = "provider_unavailable"
	Persistence         Kind = "persistence"
	Internal            Kind = "internal"
)

const defaultPublicMsg = "Something went wrong. Please try again."

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *AppError) Unwrap() error { return e.Err }

// Constructors. PublicMsg must stay short and leak nothing internal.
func InvalidErr(publicMsg string, fields map[string]string) *AppError {
	return &AppError{Kind: Invalid, PublicMsg: publicMsg, Fields: fields}
}
func NotFoundErr(publicMsg string) *AppError {
	return &AppError{Kind: NotFound, PublicMsg: publicMsg}
}
func UnauthorizedErr(publicMsg string) *AppError {
	return &AppError{Kind: Unauthorized, PublicMsg: publicMsg}
}
func ForbiddenErr(publicMsg string) *AppError {
	return &AppError{Kind: Forbidden, PublicMsg: publicMsg}
}
func ConflictErr(publicMsg string) *AppError {
	return &AppError{Kind: Conflict, PublicMsg: publicMsg}
}

// InvalidStateErr carries the current status and the legal alternatives so
// clients can self-correct.
func InvalidStateErr(publicMsg, current string, allowed []string, err error) *AppError {
	if allowed == nil {
		allowed = []string{}
	}
	return &AppError{Kind: InvalidState, PublicMsg: publicMsg, Current: current, Allowed: allowed, Err: err}
}
func VerificationFailedErr(publicMsg string, err error) *AppError {
	return &AppError{Kind: VerificationFailed, PublicMsg: publicMsg, Err: err}
}
func ProviderUnavailableErr(publicMsg string, err error) *AppError {
	return &AppError{Kind: ProviderUnavailable, PublicMsg: publicMsg, Err: err}
}
func PersistenceErr(err error) *AppError {
	return &AppError{Kind: Persistence, PublicMsg: "Temporary storage failure. It is safe to retry.", Err: err}
}

// Wrap hides an internal error behind the generic public message (500).
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Kind: Internal, PublicMsg: defaultPublicMsg, Err: err}
}

func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func HTTPStatus(err error) int {
	if ae, ok := As(err); ok {
		switch ae.Kind {
		case Invalid:
			return http.StatusBadRequest
		case Unauthorized:
			return http.StatusUnauthorized
		case Forbidden:
			return http.StatusForbidden
		case NotFound:
			return http.StatusNotFound
		case Conflict, InvalidState:
			return http.StatusConflict
		case VerificationFailed:
			return http.StatusUnprocessableEntity
		case ProviderUnavailable:
			return http.StatusBadGateway
		case Persistence:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the whole operation may be safely repeated.
func Retryable(err error) bool {
	if ae, ok := As(err); ok {
		return ae.Kind == Persistence || ae.Kind == ProviderUnavailable
	}
	return false
}

func PublicMessage(err error) string {
	if ae, ok := As(err); ok && ae.PublicMsg != "" {
		return ae.PublicMsg
	}
	return defaultPublicMsg
}
