// Package convert maps domain entitlement types to and from their JSON wire form.
package convert

import (
	"time"

	"github.com/and161185/growthledger/internal/api"
	"github.com/and161185/growthledger/internal/model"
)

// --- helpers ---

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// --- Snapshot ---

// ToWireSnapshot converts a domain snapshot to its wire form.
func ToWireSnapshot(s model.StatusSnapshot) api.Snapshot {
	out := api.Snapshot{
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CustomerID:        s.CustomerID,
		SubscriptionID:    s.SubscriptionID,
	}
	if s.CurrentPeriodEnd != nil && !s.CurrentPeriodEnd.IsZero() {
		ms := s.CurrentPeriodEnd.UnixMilli()
		out.CurrentPeriodEnd = &ms
	}
	return out
}

// FromWireSnapshot converts a wire snapshot to the domain form. Status is normalized.
func FromWireSnapshot(s api.Snapshot) model.StatusSnapshot {
	out := model.StatusSnapshot{
		Status:            model.NormalizeStatus(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CustomerID:        s.CustomerID,
		SubscriptionID:    s.SubscriptionID,
	}
	if s.CurrentPeriodEnd != nil {
		end := time.UnixMilli(*s.CurrentPeriodEnd).UTC()
		out.CurrentPeriodEnd = &end
	}
	return out
}

// --- Grant ---

// ToGrantResponse converts a resolved grant to its wire form.
func ToGrantResponse(g model.Grant) api.GrantResponse {
	return api.GrantResponse{Token: g.Token, ExpiresAt: millis(g.ExpiresAt), Snapshot: ToWireSnapshot(g.Snapshot)}
}

// FromGrantResponse converts a grant answer back to the domain form.
func FromGrantResponse(r api.GrantResponse) model.Grant {
	return model.Grant{Token: r.Token, ExpiresAt: fromMillis(r.ExpiresAt), Snapshot: FromWireSnapshot(r.Snapshot)}
}

// --- Verification ---

// ToVerifyResponse converts a verification result to its wire form.
func ToVerifyResponse(v model.VerificationResult) api.VerifyResponse {
	return api.VerifyResponse{
		Valid:        v.Valid,
		RenewedToken: v.RenewedToken,
		ExpiresAt:    millis(v.ExpiresAt),
		Snapshot:     ToWireSnapshot(v.Snapshot),
	}
}

// FromVerifyResponse converts a verify answer back to the domain form.
func FromVerifyResponse(r api.VerifyResponse) model.VerificationResult {
	return model.VerificationResult{
		Valid:        r.Valid,
		Snapshot:     FromWireSnapshot(r.Snapshot),
		RenewedToken: r.RenewedToken,
		ExpiresAt:    fromMillis(r.ExpiresAt),
	}
}
