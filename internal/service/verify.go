package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
	"github.com/and161185/growthledger/internal/token"
)

// Verify checks the token and, for billing-backed grants, re-queries the subscription.
// A confirmed loss of eligibility is reported as Valid=false with no error; an
// unreachable billing authority is reported as errs.ErrUpstreamUnavailable.
func (s *EntitlementServiceImpl) Verify(ctx context.Context, raw, deviceID string) (res model.VerificationResult, err error) {
	defer func() { s.metrics.ObserveVerification(res.Valid, err) }()

	claims, err := s.parse(raw, deviceID)
	if err != nil {
		return model.VerificationResult{}, err
	}

	switch {
	case claims.GrantSource() == model.GrantOwner:
		return model.VerificationResult{Valid: true, Snapshot: model.StatusSnapshot{Status: model.StatusOwner}}, nil
	case !claims.BillingBacked():
		snap := claimsSnapshot(claims)
		return model.VerificationResult{Valid: snap.Eligible(), Snapshot: snap}, nil
	}

	snap, err := s.liveSnapshot(ctx, claims)
	if err != nil {
		return model.VerificationResult{}, err
	}
	if !snap.Eligible() {
		s.log.Info("entitlement revoked",
			zap.String("subscription", snap.SubscriptionID),
			zap.String("status", string(snap.Status)),
		)
		return model.VerificationResult{Valid: false, Snapshot: snap}, nil
	}

	renewed := token.Claims{
		DeviceID:       claims.DeviceID,
		CustomerID:     snap.CustomerID,
		SubscriptionID: snap.SubscriptionID,
		Status:         string(snap.Status),
		Email:          claims.Email,
	}
	renewed.Subject = string(model.GrantStripe)
	g, err := s.issue(renewed, snap)
	if err != nil {
		return model.VerificationResult{}, err
	}
	return model.VerificationResult{Valid: true, Snapshot: snap, RenewedToken: g.Token, ExpiresAt: g.ExpiresAt}, nil
}

// SubscriptionStatus returns the live snapshot for a billing-backed token without renewing it.
func (s *EntitlementServiceImpl) SubscriptionStatus(ctx context.Context, raw, deviceID string) (model.StatusSnapshot, error) {
	claims, err := s.parse(raw, deviceID)
	if err != nil {
		return model.StatusSnapshot{}, err
	}
	if !claims.BillingBacked() {
		return model.StatusSnapshot{}, fmt.Errorf("not a stripe subscription: %w", errs.ErrMissingFields)
	}
	return s.liveSnapshot(ctx, claims)
}

// PortalURL opens a billing portal session for the customer bound to the token.
func (s *EntitlementServiceImpl) PortalURL(ctx context.Context, raw, deviceID, returnURL string) (string, error) {
	claims, err := s.parse(raw, deviceID)
	if err != nil {
		return "", err
	}
	if !claimsSnapshot(claims).Eligible() {
		return "", fmt.Errorf("not pro: %w", errs.ErrForbidden)
	}
	if claims.CustomerID == "" {
		return "", fmt.Errorf("no billing customer: %w", errs.ErrMissingFields)
	}
	if returnURL == "" {
		returnURL = s.cfg.PortalReturnURL
	}
	if returnURL == "" {
		return "", fmt.Errorf("no return url: %w", errs.ErrMissingFields)
	}
	return s.billing.PortalURL(ctx, claims.CustomerID, returnURL)
}

func (s *EntitlementServiceImpl) parse(raw, deviceID string) (*token.Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("no token: %w", errs.ErrInvalidToken)
	}
	if deviceID == "" {
		return nil, fmt.Errorf("no device id: %w", errs.ErrMissingFields)
	}
	return s.issuer.Parse(raw, deviceID)
}

// liveSnapshot asks billing for the subscription behind claims. A subscription
// billing no longer knows is reported as CANCELED.
func (s *EntitlementServiceImpl) liveSnapshot(ctx context.Context, claims *token.Claims) (model.StatusSnapshot, error) {
	sub, err := s.billing.Subscription(ctx, claims.SubscriptionID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.StatusSnapshot{
				Status:         model.StatusCanceled,
				CustomerID:     claims.CustomerID,
				SubscriptionID: claims.SubscriptionID,
			}, nil
		}
		return model.StatusSnapshot{}, err
	}
	if sub.CustomerID == "" {
		sub.CustomerID = claims.CustomerID
	}
	return sub.Snapshot(), nil
}

// claimsSnapshot reconstructs a snapshot from claims alone. Stripe tokens
// without a status predate the status claim and were issued for active subscriptions.
func claimsSnapshot(c *token.Claims) model.StatusSnapshot {
	st := model.NormalizeStatus(c.Status)
	if st == "" {
		st = model.StatusActive
		if c.GrantSource() == model.GrantOwner {
			st = model.StatusOwner
		}
	}
	return model.StatusSnapshot{Status: st, CustomerID: c.CustomerID, SubscriptionID: c.SubscriptionID}
}
