// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Grant and verification failure kinds. The HTTP boundary maps each one to a
// stable status code; anything that matches none of them is internal.
var (
	// ErrInvalidCredential indicates a wrong owner passphrase.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrForbidden indicates a missing or mismatched route secret, or a caller without Pro status.
	ErrForbidden = errors.New("forbidden")

	// ErrMissingFields indicates a request without its required inputs.
	ErrMissingFields = errors.New("missing fields")

	// ErrPaymentIncomplete indicates a checkout session that is not paid.
	ErrPaymentIncomplete = errors.New("payment incomplete")

	// ErrMissingSubscription indicates a paid checkout session without a subscription.
	ErrMissingSubscription = errors.New("missing subscription")

	// ErrNotEligible indicates a subscription whose status does not grant Pro.
	ErrNotEligible = errors.New("not eligible")

	// ErrNotFound indicates the requested billing entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoActiveSubscription indicates a billing customer without an eligible subscription.
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrInvalidToken indicates a missing, malformed or badly signed token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired indicates a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrDeviceMismatch indicates a token presented by a device it was not issued to.
	ErrDeviceMismatch = errors.New("device mismatch")

	// ErrUpstreamUnavailable indicates the billing authority could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited indicates a temporary lock due to repeated failed attempts.
	ErrRateLimited = errors.New("rate limited")
)

// IneligibleError carries the non-eligible billing status so callers can show why access was refused.
type IneligibleError struct {
	Status string
}

func (e *IneligibleError) Error() string {
	return "not eligible: subscription status " + e.Status
}

// Is reports IneligibleError as ErrNotEligible.
func (e *IneligibleError) Is(target error) bool { return target == ErrNotEligible }
