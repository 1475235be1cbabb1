package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/and161185/growthledger/internal/billing"
	"github.com/and161185/growthledger/internal/errs"
)

type stubAuthority struct{ err error }

func (s stubAuthority) CheckoutSession(context.Context, string) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{}, s.err
}
func (s stubAuthority) Subscription(context.Context, string) (*billing.Subscription, error) {
	return &billing.Subscription{}, s.err
}
func (s stubAuthority) FindCustomerByEmail(context.Context, string) (*billing.Customer, error) {
	return &billing.Customer{}, s.err
}
func (s stubAuthority) Subscriptions(context.Context, string) ([]billing.Subscription, error) {
	return nil, s.err
}
func (s stubAuthority) PortalURL(context.Context, string, string) (string, error) {
	return "", s.err
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ok", Outcome(nil))
	require.Equal(t, "upstream_unavailable", Outcome(fmt.Errorf("x: %w", errs.ErrUpstreamUnavailable)))
	require.Equal(t, "not_eligible", Outcome(&errs.IneligibleError{Status: "CANCELED"}))
	require.Equal(t, "device_mismatch", Outcome(errs.ErrDeviceMismatch))
	require.Equal(t, "internal", Outcome(errors.New("boom")))
}

func TestObserveGrantAndVerification(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.ObserveGrant("owner", nil)
	m.ObserveGrant("owner", errs.ErrInvalidCredential)
	m.ObserveGrant("owner", errs.ErrInvalidCredential)
	m.ObserveVerification(true, nil)
	m.ObserveVerification(false, nil)

	require.Equal(t, 1.0, testutil.ToFloat64(m.grants.WithLabelValues("owner", "ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.grants.WithLabelValues("owner", "invalid_credential")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("revoked")))

	var nilM *Metrics
	nilM.ObserveGrant("owner", nil)
	nilM.ObserveVerification(true, nil)
}

func TestInstrumentAuthority(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	ctx := context.Background()

	ok := InstrumentAuthority(stubAuthority{}, m)
	_, _ = ok.CheckoutSession(ctx, "cs_test_1")
	_, _ = ok.Subscription(ctx, "sub_1")
	_, _ = ok.FindCustomerByEmail(ctx, "a@example.com")
	_, _ = ok.Subscriptions(ctx, "cus_1")
	_, _ = ok.PortalURL(ctx, "cus_1", "https://x")

	down := InstrumentAuthority(stubAuthority{err: errs.ErrUpstreamUnavailable}, m)
	_, err := down.Subscription(ctx, "sub_1")
	require.ErrorIs(t, err, errs.ErrUpstreamUnavailable)

	require.Equal(t, 1.0, testutil.ToFloat64(m.billingCalls.WithLabelValues("checkout_session", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.billingCalls.WithLabelValues("subscription", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.billingCalls.WithLabelValues("subscription", "upstream_unavailable")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.billingCalls.WithLabelValues("portal", "ok")))
	require.Equal(t, 5, testutil.CollectAndCount(m.billingDur))

	require.Equal(t, stubAuthority{}, InstrumentAuthority(stubAuthority{}, nil))
}
