package services

import (
	"errors"
	"fmt"
	"time"
)

// Domain error kinds. Callers match them with errors.Is; messages may carry extra context.
var (
	ErrNotAuthorized = errors.New("not authorized")

	ErrRequestNotFound    = errors.New("request not found")
	ErrRequestClosed      = errors.New("request closed")
	ErrRequestUnavailable = errors.New("request unavailable")
	ErrAlreadyAssigned    = errors.New("request already assigned")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")

	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrEscrowRebalanceFailed = errors.New("escrow rebalance failed")

	ErrDriverNotRegistered = errors.New("driver not registered")
	ErrDriverNotEligible   = errors.New("driver not eligible")
	ErrAlreadyRegistered   = errors.New("driver already registered")
	ErrRatingOutOfRange    = errors.New("rating out of range")

	ErrCooldownActive = errors.New("faucet cooldown active")
	ErrCapReached     = errors.New("faucet cap reached")

	ErrMintFailed       = errors.New("badge mint failed")
	ErrSettlementFailed = errors.New("settlement failed")
)

// CooldownError is returned by Faucet.Claim while the account is cooling down.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %d seconds remaining", ErrCooldownActive, e.SecondsRemaining())
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// SecondsRemaining rounds up so a client never retries a second early.
func (e *CooldownError) SecondsRemaining() uint64 {
	return ceilSeconds(e.Remaining)
}

func ceilSeconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return uint64(secs)
}
