package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/limiter"
	"github.com/and161185/growthledger/internal/model"
	"github.com/and161185/growthledger/internal/token"
)

// GrantRequest is one of OwnerGrant, SessionGrant or SubscriberGrant.
type GrantRequest interface {
	grantSource() model.GrantSource
}

// OwnerGrant unlocks Pro offline with the owner passphrase.
type OwnerGrant struct {
	Passphrase  string
	RouteSecret string
}

// SessionGrant activates Pro from a completed checkout session.
type SessionGrant struct {
	SessionID string
}

// SubscriberGrant restores Pro for an existing subscriber by email.
type SubscriberGrant struct {
	Email string
}

func (OwnerGrant) grantSource() model.GrantSource      { return model.GrantOwner }
func (SessionGrant) grantSource() model.GrantSource    { return model.GrantStripe }
func (SubscriberGrant) grantSource() model.GrantSource { return model.GrantStripe }

// limiter subjects, one per guarded route
const (
	subjectOwner      = "owner"
	subjectSubscriber = "subscriber"
)

// Resolve dispatches req to its resolver.
func (s *EntitlementServiceImpl) Resolve(ctx context.Context, deviceID string, req GrantRequest) (model.Grant, error) {
	var (
		g   model.Grant
		err error
	)
	switch r := req.(type) {
	case OwnerGrant:
		g, err = s.resolveOwner(ctx, deviceID, r)
	case *OwnerGrant:
		g, err = s.resolveOwner(ctx, deviceID, *r)
	case SessionGrant:
		g, err = s.resolveSession(ctx, deviceID, r)
	case *SessionGrant:
		g, err = s.resolveSession(ctx, deviceID, *r)
	case SubscriberGrant:
		g, err = s.resolveSubscriber(ctx, deviceID, r)
	case *SubscriberGrant:
		g, err = s.resolveSubscriber(ctx, deviceID, *r)
	default:
		return model.Grant{}, fmt.Errorf("unknown grant request %T", req)
	}
	s.metrics.ObserveGrant(grantLabel(req), err)
	if err != nil {
		s.log.Info("grant refused", zap.String("grant", grantLabel(req)), zap.Error(err))
	}
	return g, err
}

func grantLabel(req GrantRequest) string {
	switch req.(type) {
	case OwnerGrant, *OwnerGrant:
		return "owner"
	case SessionGrant, *SessionGrant:
		return "session"
	default:
		return "subscriber"
	}
}

// issue signs a token for snap and returns the grant.
func (s *EntitlementServiceImpl) issue(claims token.Claims, snap model.StatusSnapshot) (model.Grant, error) {
	ttl := s.cfg.BillingTTL
	if claims.GrantSource() == model.GrantOwner {
		ttl = s.cfg.OwnerTTL
	}
	raw, exp, err := s.issuer.Issue(claims, ttl)
	if err != nil {
		return model.Grant{}, fmt.Errorf("issue token: %w", err)
	}
	return model.Grant{Token: raw, ExpiresAt: exp, Snapshot: snap}, nil
}

// allow consults the limiter for subject and the caller's address.
func (s *EntitlementServiceImpl) allow(ctx context.Context, subject string) (bool, error) {
	if s.lim == nil {
		return true, nil
	}
	ok, _, err := s.lim.Allow(ctx, subject, clientIPHash(ctx))
	return ok, err
}

// failure records a failed attempt and reports whether it triggered a block.
func (s *EntitlementServiceImpl) failure(ctx context.Context, subject string) bool {
	if s.lim == nil {
		return false
	}
	blocked, _, err := s.lim.Failure(ctx, subject, clientIPHash(ctx))
	if err != nil {
		s.log.Warn("limiter failure", zap.String("subject", subject), zap.Error(err))
		return false
	}
	return blocked
}

func (s *EntitlementServiceImpl) success(ctx context.Context, subject string) {
	if s.lim == nil {
		return
	}
	if err := s.lim.Success(ctx, subject, clientIPHash(ctx)); err != nil {
		s.log.Warn("limiter success", zap.String("subject", subject), zap.Error(err))
	}
}

func clientIPHash(ctx context.Context) []byte {
	ip, _ := ClientIPFromCtx(ctx)
	return limiter.HashIP(ip)
}

// rateLimited is returned when the limiter refuses an attempt.
var rateLimited = fmt.Errorf("too many attempts: %w", errs.ErrRateLimited)
