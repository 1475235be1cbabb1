package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/and161185/growthledger/internal/crypto"
	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
	"github.com/and161185/growthledger/internal/token"
)

// resolveOwner checks the route secret, then the passphrase against the provisioned digest.
func (s *EntitlementServiceImpl) resolveOwner(ctx context.Context, deviceID string, req OwnerGrant) (model.Grant, error) {
	oc := s.cfg.Owner
	if oc.RouteSecret != "" && subtle.ConstantTimeCompare([]byte(req.RouteSecret), []byte(oc.RouteSecret)) != 1 {
		return model.Grant{}, errs.ErrForbidden
	}
	if req.Passphrase == "" || deviceID == "" {
		return model.Grant{}, fmt.Errorf("owner unlock requires key and device: %w", errs.ErrMissingFields)
	}
	if oc.DerivedHex == "" {
		return model.Grant{}, errors.New("owner unlock is not configured")
	}

	ok, err := s.allow(ctx, subjectOwner)
	if err != nil {
		return model.Grant{}, fmt.Errorf("limiter: %w", err)
	}
	if !ok {
		return model.Grant{}, rateLimited
	}

	candidate := crypto.DeriveHex(oc.KDF, []byte(req.Passphrase), oc.Salt, oc.Iterations)
	if !crypto.VerifyHex(candidate, oc.DerivedHex) {
		if s.failure(ctx, subjectOwner) {
			return model.Grant{}, rateLimited
		}
		return model.Grant{}, errs.ErrInvalidCredential
	}
	s.success(ctx, subjectOwner)

	claims := token.Claims{DeviceID: deviceID, Status: string(model.StatusOwner)}
	claims.Subject = string(model.GrantOwner)
	return s.issue(claims, model.StatusSnapshot{Status: model.StatusOwner})
}
