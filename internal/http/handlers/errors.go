package handlers

import (
	"errors"

	"globlept.co.uk/app/internal/modules/orders"
	"globlept.co.uk/app/internal/modules/payments"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/shared/apperr"
	"globlept.co.uk/app/internal/shared/authz"
)

type stateError interface {
	error
	CurrentStatus() string
	AllowedStatuses() []string
}

// toAppErr maps domain errors onto the public error kinds. It is the only
// place the HTTP layer looks inside service errors.
func toAppErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}

	var ve *prescriptions.ValidationError
	if errors.As(err, &ve) {
		return &apperr.AppError{Kind: apperr.Invalid, PublicMsg: "Some fields are invalid.", Fields: ve.Fields, Err: err}
	}

	var se stateError
	switch {
	case errors.Is(err, authz.ErrUnauthenticated):
		return &apperr.AppError{Kind: apperr.Unauthorized, PublicMsg: "Authentication required.", Err: err}
	case errors.Is(err, authz.ErrForbidden):
		return &apperr.AppError{Kind: apperr.Forbidden, PublicMsg: "You do not have access to this resource.", Err: err}
	case errors.Is(err, payments.ErrNotPriced):
		return apperr.InvalidStateErr("The prescription has not been priced yet.",
			string(prescriptions.StatusApproved), []string{}, err)
	case errors.As(err, &se):
		return apperr.InvalidStateErr("The operation is not allowed in the current status.",
			se.CurrentStatus(), se.AllowedStatuses(), err)
	case errors.Is(err, prescriptions.ErrInvalidState), errors.Is(err, orders.ErrInvalidState):
		return apperr.InvalidStateErr("The operation is not allowed in the current status.", "", nil, err)
	case errors.Is(err, prescriptions.ErrNotFound):
		return &apperr.AppError{Kind: apperr.NotFound, PublicMsg: "Prescription not found.", Err: err}
	case errors.Is(err, orders.ErrNotFound):
		return &apperr.AppError{Kind: apperr.NotFound, PublicMsg: "Order not found.", Err: err}
	case errors.Is(err, prescriptions.ErrStaffNotFound):
		return &apperr.AppError{Kind: apperr.Invalid, PublicMsg: "Unknown staff member.",
			Fields: map[string]string{"staff_id": "Is not a staff member."}, Err: err}
	case errors.Is(err, prescriptions.ErrConcurrentUpdate), errors.Is(err, orders.ErrConcurrentUpdate):
		return &apperr.AppError{Kind: apperr.Conflict, PublicMsg: "The record changed meanwhile. Reload and try again.", Err: err}
	case errors.Is(err, payments.ErrVerificationFailed):
		return apperr.VerificationFailedErr("The payment could not be verified.", err)
	case errors.Is(err, payments.ErrProviderUnavailable):
		return apperr.ProviderUnavailableErr("The payment provider is unavailable. Please try again.", err)
	case errors.Is(err, payments.ErrPersistence):
		return apperr.PersistenceErr(err)
	default:
		return apperr.Wrap(err)
	}
}
