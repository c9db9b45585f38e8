package core

import (
	"errors"
	"fmt"

	"cdpvault/internal/token"
)

// Operation failure classes. Handlers map these to transport-level codes;
// everything downstream matches with errors.Is.
var (
	ErrDuplicateRegistration     = errors.New("duplicate registration")
	ErrAuthorityDerivationFailed = errors.New("authority derivation failed")
	ErrAuthorityMismatch         = errors.New("authority mismatch")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrExternalLedgerFailure     = errors.New("external ledger failure")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidRequestID          = errors.New("invalid request id")
	ErrUnknownReference          = errors.New("unknown reference")
	ErrVersionConflict           = errors.New("version conflict")
	ErrDuplicateRequest          = errors.New("duplicate request")
	ErrUndercollateralized       = errors.New("position undercollateralized")
)

// mapTokenError translates token ledger failures into engine error classes.
// Authority and balance rejections keep their meaning; anything else is an
// external ledger failure.
func mapTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, token.ErrAuthorityRejected):
		return fmt.Errorf("%w: %v", ErrAuthorityMismatch, err)
	case errors.Is(err, token.ErrInsufficientFunds):
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	case errors.Is(err, token.ErrInvalidAmount):
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	default:
		return fmt.Errorf("%w: %v", ErrExternalLedgerFailure, err)
	}
}
