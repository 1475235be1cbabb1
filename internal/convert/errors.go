package convert

import (
	"errors"
	"fmt"

	"github.com/and161185/growthledger/internal/api"
	"github.com/and161185/growthledger/internal/errs"
)

var codes = []struct {
	code string
	err  error
}{
	{api.CodeInvalidCredential, errs.ErrInvalidCredential},
	{api.CodeForbidden, errs.ErrForbidden},
	{api.CodeMissingFields, errs.ErrMissingFields},
	{api.CodePaymentIncomplete, errs.ErrPaymentIncomplete},
	{api.CodeMissingSubscription, errs.ErrMissingSubscription},
	{api.CodeNotEligible, errs.ErrNotEligible},
	{api.CodeNotFound, errs.ErrNotFound},
	{api.CodeNoActiveSub, errs.ErrNoActiveSubscription},
	{api.CodeInvalidToken, errs.ErrInvalidToken},
	{api.CodeTokenExpired, errs.ErrTokenExpired},
	{api.CodeDeviceMismatch, errs.ErrDeviceMismatch},
	{api.CodeUpstreamUnavailable, errs.ErrUpstreamUnavailable},
	{api.CodeRateLimited, errs.ErrRateLimited},
}

// ErrorCode returns the wire code of err; errors matching no sentinel are api.CodeInternal.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return api.CodeInternal
}

// ErrorFromResponse rebuilds a sentinel-wrapping error from an error body.
func ErrorFromResponse(r api.ErrorResponse) error {
	if r.Code == api.CodeNotEligible && r.Status != "" {
		return &errs.IneligibleError{Status: r.Status}
	}
	for _, c := range codes {
		if c.code == r.Code {
			if r.Error == "" || r.Error == c.err.Error() {
				return c.err
			}
			return fmt.Errorf("%s: %w", r.Error, c.err)
		}
	}
	if r.Error == "" {
		r.Error = "unknown error"
	}
	return fmt.Errorf("server: %s (%s)", r.Error, r.Code)
}
