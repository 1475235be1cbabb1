// Package service resolves Pro grants, verifies and renews entitlement tokens,
// and opens billing portal sessions.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/growthledger/internal/billing"
	"github.com/and161185/growthledger/internal/crypto"
	"github.com/and161185/growthledger/internal/limiter"
	"github.com/and161185/growthledger/internal/metrics"
	"github.com/and161185/growthledger/internal/model"
	"github.com/and161185/growthledger/internal/token"
)

// EntitlementService defines the server-side entitlement protocol.
type EntitlementService interface {
	// Resolve turns a grant request into a device-bound token.
	Resolve(ctx context.Context, deviceID string, req GrantRequest) (model.Grant, error)
	// Verify re-checks a token and renews it when billing still confirms it.
	Verify(ctx context.Context, raw, deviceID string) (model.VerificationResult, error)
	// SubscriptionStatus returns the live snapshot behind a billing-backed token.
	SubscriptionStatus(ctx context.Context, raw, deviceID string) (model.StatusSnapshot, error)
	// PortalURL opens a billing portal session for the token's customer.
	PortalURL(ctx context.Context, raw, deviceID, returnURL string) (string, error)
}

// OwnerConfig configures the offline owner passphrase grant.
type OwnerConfig struct {
	KDF         crypto.KDF
	Salt        []byte // crypto.OwnerSalt(salt, pepper)
	Iterations  int
	DerivedHex  string // expected digest; empty disables the owner grant
	RouteSecret string // optional second factor sent alongside the passphrase
}

// Config holds token lifetimes and grant settings.
type Config struct {
	Owner           OwnerConfig
	OwnerTTL        time.Duration
	BillingTTL      time.Duration
	PortalReturnURL string
}

// DefaultOwnerTTL and DefaultBillingTTL are the token lifetimes used when Config leaves them zero.
const (
	DefaultOwnerTTL   = 30 * 24 * time.Hour
	DefaultBillingTTL = 24 * time.Hour
)

type EntitlementServiceImpl struct {
	cfg     Config
	issuer  *token.Issuer
	billing billing.Authority
	lim     limiter.Limiter
	metrics *metrics.Metrics
	log     *zap.Logger
}

var _ EntitlementService = (*EntitlementServiceImpl)(nil)

// NewEntitlementService constructs EntitlementService with required dependencies.
// lim and m may be nil.
func NewEntitlementService(cfg Config, issuer *token.Issuer, auth billing.Authority, lim limiter.Limiter, m *metrics.Metrics, log *zap.Logger) *EntitlementServiceImpl {
	if cfg.OwnerTTL <= 0 {
		cfg.OwnerTTL = DefaultOwnerTTL
	}
	if cfg.BillingTTL <= 0 {
		cfg.BillingTTL = DefaultBillingTTL
	}
	if cfg.Owner.KDF == "" {
		cfg.Owner.KDF = crypto.KDFPBKDF2
	}
	if cfg.Owner.Iterations <= 0 {
		cfg.Owner.Iterations = crypto.DefaultIterations
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EntitlementServiceImpl{cfg: cfg, issuer: issuer, billing: auth, lim: lim, metrics: m, log: log}
}
