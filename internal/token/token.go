// Package token issues and parses signed, device-bound entitlement tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
)

// Claims is the entitlement claim set. Subject carries the grant source.
type Claims struct {
	jwt.RegisteredClaims
	Pro            bool   `json:"pro"`
	DeviceID       string `json:"deviceId"`
	CustomerID     string `json:"customerId,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Status         string `json:"status,omitempty"`
	Email          string `json:"email,omitempty"`
}

// GrantSource returns the grant source recorded in the subject.
func (c *Claims) GrantSource() model.GrantSource { return model.GrantSource(c.Subject) }

// BillingBacked reports whether the token must be re-confirmed against the billing authority.
func (c *Claims) BillingBacked() bool {
	return c.GrantSource() == model.GrantStripe && c.SubscriptionID != ""
}

// SigningContext carries the shared secret and clock used to sign and check tokens.
type SigningContext struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

// Issuer mints and parses HS256 entitlement tokens.
type Issuer struct {
	sc SigningContext
}

// NewIssuer constructs an Issuer. A nil clock defaults to time.Now.
func NewIssuer(sc SigningContext) (*Issuer, error) {
	if len(sc.Secret) == 0 {
		return nil, errors.New("token: empty signing secret")
	}
	if sc.Now == nil {
		sc.Now = time.Now
	}
	return &Issuer{sc: sc}, nil
}

// Issue signs claims with an expiry of now+ttl. Registered time claims, jti and
// issuer are always overwritten; the token is issued wholesale.
func (i *Issuer) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("token: non-positive ttl %s", ttl)
	}
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate has second precision; truncating keeps exp == iat+ttl exactly.
	now := i.sc.Now().Truncate(time.Second)
	exp := now.Add(ttl)

	claims.Pro = true
	claims.ID = jti.String()
	claims.Issuer = i.sc.Issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = nil
	claims.ExpiresAt = jwt.NewNumericDate(exp)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.sc.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse checks signature, device binding and expiry, in that order, and returns the claims.
// A token bound to another device fails with ErrDeviceMismatch even when it has also expired.
func (i *Issuer) Parse(raw, deviceID string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", errs.ErrInvalidToken)
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.sc.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}
	if claims.DeviceID == "" || claims.DeviceID != deviceID {
		return nil, errs.ErrDeviceMismatch
	}

	v := jwt.NewValidator(jwt.WithTimeFunc(i.sc.Now), jwt.WithExpirationRequired())
	if err := v.Validate(&claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}
	return &claims, nil
}
