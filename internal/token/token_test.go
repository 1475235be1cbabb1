package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestIssuer(t *testing.T, secret string) (*Issuer, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	iss, err := NewIssuer(SigningContext{Secret: []byte(secret), Issuer: "test", Now: clk.Now})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss, clk
}

func TestNewIssuer_RejectsEmptySecret(t *testing.T) {
	t.Parallel()
	if _, err := NewIssuer(SigningContext{}); err == nil {
		t.Fatalf("want error for empty secret")
	}
}

func TestIssue_ValidUntilExactExpiry(t *testing.T) {
	t.Parallel()

	iss, clk := newTestIssuer(t, "secret")
	start := clk.t
	ttl := 24 * time.Hour

	tok, exp, err := iss.Issue(Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: string(model.GrantStripe)},
		DeviceID:         "dev-A",
		CustomerID:       "cus_1",
		SubscriptionID:   "sub_1",
		Status:           "ACTIVE",
	}, ttl)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(start.Add(ttl)) {
		t.Fatalf("exp=%v, want %v", exp, start.Add(ttl))
	}

	for _, off := range []time.Duration{0, time.Hour, ttl - time.Second} {
		clk.t = start.Add(off)
		c, err := iss.Parse(tok, "dev-A")
		if err != nil {
			t.Fatalf("Parse at +%s: %v", off, err)
		}
		if c.GrantSource() != model.GrantStripe || !c.BillingBacked() || !c.Pro {
			t.Fatalf("claims mismatch: %+v", c)
		}
		if c.CustomerID != "cus_1" || c.SubscriptionID != "sub_1" || c.Status != "ACTIVE" {
			t.Fatalf("billing claims mismatch: %+v", c)
		}
	}

	for _, off := range []time.Duration{ttl, ttl + time.Second, 48 * time.Hour} {
		clk.t = start.Add(off)
		if _, err := iss.Parse(tok, "dev-A"); !errors.Is(err, errs.ErrTokenExpired) {
			t.Fatalf("Parse at +%s: want ErrTokenExpired, got %v", off, err)
		}
	}
}

func TestParse_DeviceMismatchWins(t *testing.T) {
	t.Parallel()

	iss, clk := newTestIssuer(t, "secret")
	tok, _, err := iss.Issue(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "owner"}, DeviceID: "A"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := iss.Parse(tok, "B"); !errors.Is(err, errs.ErrDeviceMismatch) {
		t.Fatalf("want ErrDeviceMismatch, got %v", err)
	}
	clk.t = clk.t.Add(2 * time.Hour)
	if _, err := iss.Parse(tok, "B"); !errors.Is(err, errs.ErrDeviceMismatch) {
		t.Fatalf("expired token on wrong device: want ErrDeviceMismatch, got %v", err)
	}
	if _, err := iss.Parse(tok, ""); !errors.Is(err, errs.ErrDeviceMismatch) {
		t.Fatalf("empty device: want ErrDeviceMismatch, got %v", err)
	}
}

func TestParse_InvalidTokens(t *testing.T) {
	t.Parallel()

	iss, _ := newTestIssuer(t, "secret")
	other, _ := newTestIssuer(t, "other-secret")

	foreign, _, err := other.Issue(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "owner"}, DeviceID: "A"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{DeviceID: "A"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("none token: %v", err)
	}

	for name, raw := range map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"wrong secret": foreign,
		"alg none":     unsigned,
	} {
		if _, err := iss.Parse(raw, "A"); !errors.Is(err, errs.ErrInvalidToken) {
			t.Fatalf("%s: want ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestParse_MissingExpiryIsInvalid(t *testing.T) {
	t.Parallel()

	iss, _ := newTestIssuer(t, "secret")
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{DeviceID: "A"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := iss.Parse(raw, "A"); !errors.Is(err, errs.ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestIssue_RenewalsDiffer(t *testing.T) {
	t.Parallel()

	iss, _ := newTestIssuer(t, "secret")
	c := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "stripe"}, DeviceID: "A", SubscriptionID: "sub_1"}
	a, _, err := iss.Issue(c, time.Hour)
	if err != nil {
		t.Fatalf("Issue a: %v", err)
	}
	b, _, err := iss.Issue(c, time.Hour)
	if err != nil {
		t.Fatalf("Issue b: %v", err)
	}
	if a == b {
		t.Fatalf("two issues at the same instant must differ")
	}
	if _, _, err := iss.Issue(c, 0); err == nil {
		t.Fatalf("want error for zero ttl")
	}
}
