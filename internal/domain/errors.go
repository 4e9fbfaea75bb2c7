package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
	ErrOverflow = errors.New("amount overflow")

	// Stake validation.
	ErrEmptyFunds     = errors.New("no funds sent")
	ErrMultipleDenoms = errors.New("multiple denominations sent")
	ErrWrongDenom     = errors.New("wrong denomination")
	ErrInvalidPlayer  = errors.New("invalid player address")

	// Round lifecycle.
	ErrPredictionStillInProgress = errors.New("prediction still in progress")
	ErrRoundClosed               = errors.New("round closed for wagering")
	ErrAlreadyResolved           = errors.New("already resolved")
	ErrAlreadyInstantiated       = errors.New("game already instantiated")
	ErrPriceUnavailable          = errors.New("reference price unavailable")
)
