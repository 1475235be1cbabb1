// Package billing queries the subscription billing authority (Stripe), the source of truth for paid status.
package billing

import (
	"context"
	"sort"
	"time"

	"github.com/and161185/growthledger/internal/model"
)

// PaymentStatusPaid is the checkout session payment status that completes a purchase.
const PaymentStatusPaid = "paid"

// Subscription is the subset of a billing subscription the entitlement protocol needs.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            model.Status
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
	Created           time.Time
}

// Snapshot converts the subscription into a status snapshot.
func (s Subscription) Snapshot() model.StatusSnapshot {
	snap := model.StatusSnapshot{
		Status:            s.Status,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CustomerID:        s.CustomerID,
		SubscriptionID:    s.ID,
	}
	if !s.CurrentPeriodEnd.IsZero() {
		end := s.CurrentPeriodEnd
		snap.CurrentPeriodEnd = &end
	}
	return snap
}

// CheckoutSession is a checkout session with its subscription and customer expanded.
type CheckoutSession struct {
	ID            string
	PaymentStatus string
	CustomerID    string
	Subscription  *Subscription // nil when the session has no subscription
}

// Customer is a billing customer.
type Customer struct {
	ID    string
	Email string
}

// Authority is the remote billing authority. Transport failures and timeouts are
// reported as errs.ErrUpstreamUnavailable, unknown ids as errs.ErrNotFound.
type Authority interface {
	// CheckoutSession fetches a checkout session with subscription and customer expanded.
	CheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	// Subscription fetches the live state of one subscription.
	Subscription(ctx context.Context, id string) (*Subscription, error)
	// FindCustomerByEmail returns the first customer matching email.
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	// Subscriptions lists all subscriptions of a customer, in any status.
	Subscriptions(ctx context.Context, customerID string) ([]Subscription, error)
	// PortalURL opens a billing portal session for the customer.
	PortalURL(ctx context.Context, customerID, returnURL string) (string, error)
}

// PickEligible returns the eligible subscription a grant binds to: the most
// recently created one, ties broken by the greatest id. ok is false when none is eligible.
func PickEligible(subs []Subscription) (Subscription, bool) {
	eligible := make([]Subscription, 0, len(subs))
	for _, s := range subs {
		if s.Status == model.StatusActive || s.Status == model.StatusTrialing {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return Subscription{}, false
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].Created.Equal(eligible[j].Created) {
			return eligible[i].Created.After(eligible[j].Created)
		}
		return eligible[i].ID > eligible[j].ID
	})
	return eligible[0], true
}

// IsSafeID validates that a billing id (cus_..., sub_..., cs_...) is safe to send upstream.
func IsSafeID(id string) bool {
	if len(id) < 5 || len(id) > 255 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
