// Package shared holds error types and values used across the money-moving
// components. Every rejection produced here is side-effect-free: a caller that
// receives one of these errors can assume no balance was touched.
package shared

import (
	"errors"
	"fmt"
	"time"
)

// Common validation and ledger errors
var (
	ErrInvalidAmount     = errors.New("amount must be a positive integer")
	ErrSameWallet        = errors.New("source and destination wallet must differ")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrFeeExceedsAmount  = errors.New("fee would leave no net credit")
	ErrExpired           = errors.New("expired")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidState      = errors.New("operation not valid in current state")
	ErrTooManyAttempts   = errors.New("too many attempts")
	ErrForbidden         = errors.New("forbidden")
)

// GuardrailError is a KYC or velocity rejection. It is distinct from ordinary
// validation errors so handlers and the audit trail can treat it separately.
type GuardrailError struct {
	Rule   string // e.g. "kyc_per_txn", "velocity_sender_count"
	Detail string
}

func (e GuardrailError) Error() string {
	return fmt.Sprintf("guardrail violation (%s): %s", e.Rule, e.Detail)
}

// Is matches any GuardrailError when the target carries no rule.
func (e GuardrailError) Is(target error) bool {
	t, ok := target.(GuardrailError)
	if !ok {
		return false
	}
	return t.Rule == "" || t.Rule == e.Rule
}

// RateLimitError is a risk-scoring or denylist block. RetryAfter carries the
// exponential backoff hint derived from the caller's strike counter.
type RateLimitError struct {
	Rule       string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %s", e.Rule, e.RetryAfter)
}

// Is matches any RateLimitError when the target carries no rule.
func (e RateLimitError) Is(target error) bool {
	t, ok := target.(RateLimitError)
	if !ok {
		return false
	}
	return t.Rule == "" || t.Rule == e.Rule
}
