package community

import "errors"

var (
	ErrOnlyAdmin         = errors.New("community: caller is not the admin")
	ErrZeroAddress       = errors.New("community: zero address")
	ErrInvalidPoints     = errors.New("community: points must be positive")
	ErrPointsOverflow    = errors.New("community: points accumulator overflow")
	ErrInvalidAmount     = errors.New("community: amount cannot be negative")
	ErrInsufficientFunds = errors.New("community: insufficient balance")
	ErrPeriodNotFound    = errors.New("community: period not found")
	ErrPeriodStillActive = errors.New("community: period still active")
	ErrAlreadyClaimed    = errors.New("community: rewards already claimed")
	ErrNoPointsInPeriod  = errors.New("community: no points in period")
	ErrTransferFailed    = errors.New("community: reward transfer failed")
	ErrReentrantCall     = errors.New("community: reentrant call rejected")

	errNilState           = errors.New("community engine: state not configured")
	errNotInitialized     = errors.New("community engine: ledger not initialized")
	errAlreadyInitialized = errors.New("community engine: ledger already initialized")
	errPoolVaultNotSet    = errors.New("community engine: pool vault not configured")
)
