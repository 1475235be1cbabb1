// Package model defines domain entities shared by the server, the resolvers and the device client.
package model

import (
	"strings"
	"time"
)

// GrantSource names the mechanism that produced an entitlement.
type GrantSource string

const (
	GrantOwner  GrantSource = "owner"
	GrantStripe GrantSource = "stripe"
)

// Status is an upper-cased billing status or the synthesized OWNER status.
type Status string

const (
	StatusActive            Status = "ACTIVE"
	StatusTrialing          Status = "TRIALING"
	StatusOwner             Status = "OWNER"
	StatusPastDue           Status = "PAST_DUE"
	StatusCanceled          Status = "CANCELED"
	StatusUnpaid            Status = "UNPAID"
	StatusIncomplete        Status = "INCOMPLETE"
	StatusIncompleteExpired Status = "INCOMPLETE_EXPIRED"
	StatusPaused            Status = "PAUSED"
)

// NormalizeStatus maps a billing status ("active", " Trialing ") to its Status form.
func NormalizeStatus(s string) Status {
	return Status(strings.ToUpper(strings.TrimSpace(s)))
}

// Eligible reports whether the status admits Pro feature access.
func (s Status) Eligible() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusOwner:
		return true
	default:
		return false
	}
}

// StatusSnapshot is the last-known subscription state derived from the billing authority
// (or synthesized as OWNER for offline grants).
type StatusSnapshot struct {
	Status            Status     `json:"status"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd,omitempty"`
	CustomerID        string     `json:"customerId,omitempty"`
	SubscriptionID    string     `json:"subscriptionId,omitempty"`
}

// Eligible reports whether the snapshot admits Pro feature access.
func (s StatusSnapshot) Eligible() bool { return s.Status.Eligible() }

// Grant is the outcome of a successful grant resolution.
type Grant struct {
	Token     string
	ExpiresAt time.Time
	Snapshot  StatusSnapshot
}

// VerificationResult is the outcome of re-checking a presented token.
// Valid=false with a populated Snapshot means billing confirmed the entitlement is gone.
type VerificationResult struct {
	Valid        bool
	Snapshot     StatusSnapshot
	RenewedToken string
	ExpiresAt    time.Time // expiry of RenewedToken, zero when no renewal happened
}
