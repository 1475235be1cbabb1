package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/growthledger/internal/billing"
	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
	"github.com/and161185/growthledger/internal/token"
)

// resolveSession activates Pro from a paid checkout session whose subscription is live.
func (s *EntitlementServiceImpl) resolveSession(ctx context.Context, deviceID string, req SessionGrant) (model.Grant, error) {
	if req.SessionID == "" || deviceID == "" {
		return model.Grant{}, fmt.Errorf("activation requires session and device: %w", errs.ErrMissingFields)
	}
	if !billing.IsSafeID(req.SessionID) {
		return model.Grant{}, fmt.Errorf("checkout session: %w", errs.ErrNotFound)
	}

	cs, err := s.billing.CheckoutSession(ctx, req.SessionID)
	if err != nil {
		return model.Grant{}, err
	}
	if cs.PaymentStatus != billing.PaymentStatusPaid {
		return model.Grant{}, fmt.Errorf("checkout session %s is %q: %w", cs.ID, cs.PaymentStatus, errs.ErrPaymentIncomplete)
	}
	if cs.Subscription == nil || cs.Subscription.ID == "" {
		return model.Grant{}, fmt.Errorf("checkout session %s: %w", cs.ID, errs.ErrMissingSubscription)
	}
	customerID := cs.CustomerID
	if customerID == "" {
		customerID = cs.Subscription.CustomerID
	}
	if customerID == "" {
		return model.Grant{}, fmt.Errorf("checkout session %s has no customer: %w", cs.ID, errs.ErrMissingSubscription)
	}

	// The expanded copy may predate a cancellation; ask again.
	sub, err := s.billing.Subscription(ctx, cs.Subscription.ID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Grant{}, &errs.IneligibleError{Status: string(model.StatusCanceled)}
		}
		return model.Grant{}, err
	}
	if sub.CustomerID == "" {
		sub.CustomerID = customerID
	}
	snap := sub.Snapshot()
	if !snap.Eligible() {
		return model.Grant{}, &errs.IneligibleError{Status: string(snap.Status)}
	}

	claims := token.Claims{
		DeviceID:       deviceID,
		CustomerID:     snap.CustomerID,
		SubscriptionID: snap.SubscriptionID,
		Status:         string(snap.Status),
	}
	claims.Subject = string(model.GrantStripe)
	return s.issue(claims, snap)
}
