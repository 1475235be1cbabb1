package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"

	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
)

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	SecretKey string
	Timeout   time.Duration // bound on every request; 0 means 10s
	BaseURL   string        // API base override, used against local fakes
}

// Stripe implements Authority on top of stripe-go.
type Stripe struct {
	api *client.API
}

var _ Authority = (*Stripe)(nil)

// NewStripe builds a Stripe client with a bounded timeout and no automatic retries.
func NewStripe(cfg StripeConfig, log *zap.Logger) *Stripe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     log.Named("stripe").Sugar(),
	}
	if cfg.BaseURL != "" {
		bc.URL = stripe.String(cfg.BaseURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, bc),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, bc),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, bc),
	}
	return &Stripe{api: client.New(cfg.SecretKey, backends)}
}

// CheckoutSession fetches a checkout session with subscription and customer expanded.
func (s *Stripe) CheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")
	params.AddExpand("customer")

	cs, err := s.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, mapStripeErr("checkout session", err)
	}
	out := &CheckoutSession{ID: cs.ID, PaymentStatus: string(cs.PaymentStatus)}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil && cs.Subscription.ID != "" {
		sub := fromStripeSubscription(cs.Subscription)
		if sub.CustomerID == "" {
			sub.CustomerID = out.CustomerID
		}
		out.Subscription = &sub
	}
	return out, nil
}

// Subscription fetches the live state of one subscription.
func (s *Stripe) Subscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, mapStripeErr("subscription", err)
	}
	out := fromStripeSubscription(sub)
	return &out, nil
}

// FindCustomerByEmail returns the first customer Stripe lists for email (newest first).
func (s *Stripe) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	it := s.api.Customers.List(params)
	if it.Next() {
		c := it.Customer()
		return &Customer{ID: c.ID, Email: c.Email}, nil
	}
	if err := it.Err(); err != nil {
		return nil, mapStripeErr("customer lookup", err)
	}
	return nil, fmt.Errorf("customer lookup: %w", errs.ErrNotFound)
}

// Subscriptions lists all subscriptions of a customer, in any status.
func (s *Stripe) Subscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	var out []Subscription
	it := s.api.Subscriptions.List(params)
	for it.Next() {
		out = append(out, fromStripeSubscription(it.Subscription()))
	}
	if err := it.Err(); err != nil {
		return nil, mapStripeErr("subscription list", err)
	}
	return out, nil
}

// PortalURL opens a billing portal session for the customer.
func (s *Stripe) PortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	ps, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", mapStripeErr("billing portal", err)
	}
	return ps.URL, nil
}

func fromStripeSubscription(sub *stripe.Subscription) Subscription {
	out := Subscription{
		ID:                sub.ID,
		Status:            model.NormalizeStatus(string(sub.Status)),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if end := periodEnd(sub); end > 0 {
		out.CurrentPeriodEnd = time.Unix(end, 0).UTC()
	}
	if sub.Created > 0 {
		out.Created = time.Unix(sub.Created, 0).UTC()
	}
	return out
}

// periodEnd is the latest period end over the subscription items; the API
// reports billing periods per item.
func periodEnd(sub *stripe.Subscription) int64 {
	var end int64
	if sub.Items == nil {
		return 0
	}
	for _, it := range sub.Items.Data {
		if it != nil && it.CurrentPeriodEnd > end {
			end = it.CurrentPeriodEnd
		}
	}
	return end
}

// mapStripeErr separates "Stripe said no" from "Stripe could not be asked".
func mapStripeErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
		case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%s: %w: stripe status %d", op, errs.ErrUpstreamUnavailable, se.HTTPStatusCode)
		default:
			return fmt.Errorf("%s: stripe status %d code %q: %s", op, se.HTTPStatusCode, se.Code, se.Msg)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, errs.ErrUpstreamUnavailable, err)
}
