package domain

import "errors"

// Caller-facing validation failures. None of them indicate corrupted state.
var (
	ErrUnauthorized               = errors.New("unauthorized")
	ErrDrawNotOpen                = errors.New("draw is not open")
	ErrDrawStillOpen              = errors.New("draw is still open")
	ErrDrawNotPending             = errors.New("draw is not pending")
	ErrDrawNotClaimable           = errors.New("draw is not claimable")
	ErrInvalidTicket              = errors.New("invalid ticket")
	ErrMaxTicketsExceeded         = errors.New("max tickets per user exceeded")
	ErrWrongDenomination          = errors.New("wrong denomination")
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrInvalidRandomness          = errors.New("invalid randomness")
	ErrAlreadyClaimed             = errors.New("already claimed")
	ErrNoPrizeToClaim             = errors.New("no prize to claim")
	ErrRandomnessAlreadyRequested = errors.New("randomness already requested")
	ErrNoTicketsFound             = errors.New("no tickets found")
	ErrDrawNotFound               = errors.New("draw not found")
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidConfig       = errors.New("invalid config")
	ErrAlreadyInstantiated = errors.New("already instantiated")
	ErrNotInstantiated     = errors.New("not instantiated")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
)

// Fatal invariant violations. The engine panics with these; they are never
// returned to callers as ordinary errors.
var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrInvariant          = errors.New("invariant violation")
)
