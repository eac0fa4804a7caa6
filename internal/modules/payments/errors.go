package payments

import (
	"errors"
	"fmt"

	"globlept.co.uk/app/internal/modules/orders"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/shared/authz"
)

var (
	ErrVerificationFailed  = errors.New("payment verification failed")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrPersistence         = errors.New("payment state could not be saved")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrUnknownIntent       = errors.New("unknown payment intent")

	// ErrNotPriced is an invalid-state error: approval without a price.
	ErrNotPriced = fmt.Errorf("%w: prescription has no price yet", prescriptions.ErrInvalidState)
)

func verificationFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrVerificationFailed, fmt.Sprintf(format, args...))
}

func providerUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}

func persistence(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// classify passes domain errors through and marks everything else, which can
// only have come from the store, as a retryable persistence failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrVerificationFailed, ErrProviderUnavailable, ErrPersistence,
		prescriptions.ErrInvalidState, prescriptions.ErrNotFound, prescriptions.ErrConcurrentUpdate,
		orders.ErrInvalidState, orders.ErrNotFound, orders.ErrConcurrentUpdate,
		authz.ErrForbidden, authz.ErrUnauthenticated,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return persistence(err)
}
