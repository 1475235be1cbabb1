// Package api defines the JSON wire types shared by the entitlement server and its client.
package api

// HeaderDeviceID carries the presenting device on bearer-authenticated routes.
const HeaderDeviceID = "X-Device-ID"

// Routes.
const (
	PathVerify             = "/api/auth/verify"
	PathOwnerUnlock        = "/api/owner/unlock"
	PathStripeActivate     = "/api/stripe/activate"
	PathStripeVerify       = "/api/stripe/verify"
	PathStripePortal       = "/api/stripe/portal"
	PathSubscriptionStatus = "/api/subscription-status"
	PathHealth             = "/healthz"
	PathMetrics            = "/metrics"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidCredential   = "invalid_credential"
	CodeForbidden           = "forbidden"
	CodeMissingFields       = "missing_fields"
	CodePaymentIncomplete   = "payment_incomplete"
	CodeMissingSubscription = "missing_subscription"
	CodeNotEligible         = "not_eligible"
	CodeNotFound            = "not_found"
	CodeNoActiveSub         = "no_active_subscription"
	CodeInvalidToken        = "invalid_token"
	CodeTokenExpired        = "token_expired"
	CodeDeviceMismatch      = "device_mismatch"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeRateLimited         = "rate_limited"
	CodeInternal            = "internal"
)

type UnlockRequest struct {
	Key         string `json:"key"`
	DeviceID    string `json:"deviceId"`
	RouteSecret string `json:"routeSecret,omitempty"`
}

type ActivateRequest struct {
	SessionID string `json:"sessionId"`
	DeviceID  string `json:"deviceId"`
}

type RestoreRequest struct {
	Email    string `json:"email"`
	DeviceID string `json:"deviceId"`
}

type PortalRequest struct {
	ReturnURL string `json:"returnUrl,omitempty"`
}

// Snapshot is a subscription status snapshot; CurrentPeriodEnd is Unix milliseconds.
type Snapshot struct {
	Status            string `json:"status"`
	CurrentPeriodEnd  *int64 `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool   `json:"cancelAtPeriodEnd"`
	CustomerID        string `json:"customerId,omitempty"`
	SubscriptionID    string `json:"subscriptionId,omitempty"`
}

// GrantResponse answers the unlock, activate and restore routes.
type GrantResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt,omitempty"` // Unix milliseconds
	Snapshot
}

// VerifyResponse answers the verify route.
type VerifyResponse struct {
	Valid        bool   `json:"valid"`
	RenewedToken string `json:"renewedToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"` // Unix milliseconds, set with RenewedToken
	Snapshot
}

type PortalResponse struct {
	URL string `json:"url"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx answer. Valid is set on verify
// routes and Status when a non-eligible billing status is surfaced.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Valid  *bool  `json:"valid,omitempty"`
	Status string `json:"status,omitempty"`
}
