package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrEmptyPassword     = errors.New("password must not be empty")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenIsUsed   = errors.New("refresh token is used")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")

	ErrAccountNotFound = errors.New("account not found")

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionExists   = errors.New("transaction with the reference exists already")

	// Caller errors: never retried
	ErrInvalidAmount          = errors.New("amount is invalid")
	ErrSelfTransfer           = errors.New("sender and receiver must differ")
	ErrUnauthorized           = errors.New("not allowed to change this swap")
	ErrInvalidStateTransition = errors.New("swap state transition is not allowed")
	ErrSwapNotFound           = errors.New("swap not found")

	// Business errors: reported, swap keeps its status
	ErrInsufficientFunds = errors.New("insufficient funds")

	// Swap is completed but its payment does not exist
	ErrSettlementMissing = errors.New("swap is completed but settlement not found")

	// Store was unavailable or the unit could not commit; safe to retry
	ErrTransient = errors.New("temporarily unavailable, try again")
)

// IsCallerError reports whether err was caused by invalid input from the caller
func IsCallerError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount,
		ErrSelfTransfer,
		ErrUnauthorized,
		ErrInvalidStateTransition,
		ErrSwapNotFound,
		ErrAccountNotFound,
		ErrUserAlreadyExists,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
