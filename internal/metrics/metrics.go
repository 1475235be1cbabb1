// Package metrics exposes Prometheus instrumentation for grants, verifications and billing calls.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/and161185/growthledger/internal/billing"
	"github.com/and161185/growthledger/internal/convert"
)

// Metrics holds the entitlement server collectors.
type Metrics struct {
	grants        *prometheus.CounterVec
	verifications *prometheus.CounterVec
	billingCalls  *prometheus.CounterVec
	billingDur    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		grants: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "growthledger",
				Name:      "grants_total",
				Help:      "Grant resolutions by source and outcome.",
			},
			[]string{"source", "outcome"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "growthledger",
				Name:      "verifications_total",
				Help:      "Token verifications by outcome.",
			},
			[]string{"outcome"},
		),
		billingCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "growthledger",
				Name:      "billing_requests_total",
				Help:      "Billing authority requests by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		billingDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "growthledger",
				Name:      "billing_request_duration_seconds",
				Help:      "Billing authority request latency.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),
	}
	reg.MustRegister(m.grants, m.verifications, m.billingCalls, m.billingDur)
	return m
}

// Outcome classifies an error into a low-cardinality label value.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return convert.ErrorCode(err)
}

// ObserveGrant counts one grant resolution.
func (m *Metrics) ObserveGrant(source string, err error) {
	if m == nil {
		return
	}
	m.grants.WithLabelValues(source, Outcome(err)).Inc()
}

// ObserveVerification counts one verification. Confirmed revocations are counted as "revoked".
func (m *Metrics) ObserveVerification(valid bool, err error) {
	if m == nil {
		return
	}
	outcome := Outcome(err)
	if err == nil && !valid {
		outcome = "revoked"
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeBilling(op string, start time.Time, err error) {
	m.billingCalls.WithLabelValues(op, Outcome(err)).Inc()
	m.billingDur.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// InstrumentAuthority wraps a billing authority so every call is counted and timed.
func InstrumentAuthority(a billing.Authority, m *Metrics) billing.Authority {
	if m == nil {
		return a
	}
	return &instrumented{next: a, m: m}
}

type instrumented struct {
	next billing.Authority
	m    *Metrics
}

func (i *instrumented) CheckoutSession(ctx context.Context, id string) (cs *billing.CheckoutSession, err error) {
	defer func(start time.Time) { i.m.observeBilling("checkout_session", start, err) }(time.Now())
	return i.next.CheckoutSession(ctx, id)
}

func (i *instrumented) Subscription(ctx context.Context, id string) (s *billing.Subscription, err error) {
	defer func(start time.Time) { i.m.observeBilling("subscription", start, err) }(time.Now())
	return i.next.Subscription(ctx, id)
}

func (i *instrumented) FindCustomerByEmail(ctx context.Context, email string) (c *billing.Customer, err error) {
	defer func(start time.Time) { i.m.observeBilling("find_customer", start, err) }(time.Now())
	return i.next.FindCustomerByEmail(ctx, email)
}

func (i *instrumented) Subscriptions(ctx context.Context, customerID string) (s []billing.Subscription, err error) {
	defer func(start time.Time) { i.m.observeBilling("list_subscriptions", start, err) }(time.Now())
	return i.next.Subscriptions(ctx, customerID)
}

func (i *instrumented) PortalURL(ctx context.Context, customerID, returnURL string) (u string, err error) {
	defer func(start time.Time) { i.m.observeBilling("portal", start, err) }(time.Now())
	return i.next.PortalURL(ctx, customerID, returnURL)
}
