package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/and161185/growthledger/internal/billing"
	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
	"github.com/and161185/growthledger/internal/token"
)

// resolveSubscriber restores Pro for the newest customer matching the email.
// Unknown emails and customers without an eligible subscription count as failed attempts.
func (s *EntitlementServiceImpl) resolveSubscriber(ctx context.Context, deviceID string, req SubscriberGrant) (model.Grant, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || deviceID == "" {
		return model.Grant{}, fmt.Errorf("restore requires email and device: %w", errs.ErrMissingFields)
	}

	ok, err := s.allow(ctx, subjectSubscriber)
	if err != nil {
		return model.Grant{}, fmt.Errorf("limiter: %w", err)
	}
	if !ok {
		return model.Grant{}, rateLimited
	}

	cust, err := s.billing.FindCustomerByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) && s.failure(ctx, subjectSubscriber) {
			return model.Grant{}, rateLimited
		}
		return model.Grant{}, err
	}
	subs, err := s.billing.Subscriptions(ctx, cust.ID)
	if err != nil {
		return model.Grant{}, err
	}
	sub, found := billing.PickEligible(subs)
	if !found {
		if s.failure(ctx, subjectSubscriber) {
			return model.Grant{}, rateLimited
		}
		return model.Grant{}, fmt.Errorf("customer %s: %w", cust.ID, errs.ErrNoActiveSubscription)
	}
	s.success(ctx, subjectSubscriber)

	if sub.CustomerID == "" {
		sub.CustomerID = cust.ID
	}
	snap := sub.Snapshot()
	if cust.Email != "" {
		email = cust.Email
	}
	claims := token.Claims{
		DeviceID:       deviceID,
		CustomerID:     snap.CustomerID,
		SubscriptionID: snap.SubscriptionID,
		Status:         string(snap.Status),
		Email:          email,
	}
	claims.Subject = string(model.GrantStripe)
	return s.issue(claims, snap)
}
