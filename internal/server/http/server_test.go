package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/growthledger/internal/api"
	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
	"github.com/and161185/growthledger/internal/service"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeSvc struct {
	grant     model.Grant
	grantErr  error
	lastReq   service.GrantRequest
	lastDev   string
	lastToken string
	lastIP    string

	verify    model.VerificationResult
	verifyErr error

	snap    model.StatusSnapshot
	snapErr error

	portal     string
	portalErr  error
	lastReturn string

	panicOnVerify bool
}

var _ service.EntitlementService = (*fakeSvc)(nil)

func (f *fakeSvc) Resolve(ctx context.Context, deviceID string, req service.GrantRequest) (model.Grant, error) {
	f.lastReq, f.lastDev = req, deviceID
	f.lastIP, _ = service.ClientIPFromCtx(ctx)
	return f.grant, f.grantErr
}
func (f *fakeSvc) Verify(_ context.Context, raw, deviceID string) (model.VerificationResult, error) {
	if f.panicOnVerify {
		panic("boom")
	}
	f.lastToken, f.lastDev = raw, deviceID
	return f.verify, f.verifyErr
}
func (f *fakeSvc) SubscriptionStatus(_ context.Context, raw, deviceID string) (model.StatusSnapshot, error) {
	f.lastToken, f.lastDev = raw, deviceID
	return f.snap, f.snapErr
}
func (f *fakeSvc) PortalURL(_ context.Context, raw, deviceID, returnURL string) (string, error) {
	f.lastToken, f.lastDev, f.lastReturn = raw, deviceID, returnURL
	return f.portal, f.portalErr
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var e api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func TestOwnerUnlock(t *testing.T) {
	t.Parallel()
	f := &fakeSvc{grant: model.Grant{Token: "tok", ExpiresAt: time.Unix(100, 0), Snapshot: model.StatusSnapshot{Status: model.StatusOwner}}}
	h := New(f, zaptest.NewLogger(t), nil).Handler()

	rec := do(t, h, http.MethodPost, api.PathOwnerUnlock, `{"key":"k","deviceId":"dev-1","routeSecret":"s"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.GrantResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "tok", resp.Token)
	require.Equal(t, "OWNER", resp.Status)
	require.Equal(t, int64(100_000), resp.ExpiresAt)
	require.Equal(t, service.OwnerGrant{Passphrase: "k", RouteSecret: "s"}, f.lastReq)
	require.Equal(t, "dev-1", f.lastDev)
	require.Equal(t, "192.0.2.1", f.lastIP, "httptest peer address reaches the limiter")

	rec = do(t, h, http.MethodPost, api.PathOwnerUnlock, `{not json`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, api.CodeMissingFields, decodeErr(t, rec).Code)
}

func TestGrantErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{errs.ErrForbidden, http.StatusForbidden, api.CodeForbidden},
		{errs.ErrInvalidCredential, http.StatusUnauthorized, api.CodeInvalidCredential},
		{errs.ErrMissingFields, http.StatusBadRequest, api.CodeMissingFields},
		{errs.ErrRateLimited, http.StatusTooManyRequests, api.CodeRateLimited},
		{errs.ErrPaymentIncomplete, http.StatusPaymentRequired, api.CodePaymentIncomplete},
		{errs.ErrMissingSubscription, http.StatusBadRequest, api.CodeMissingSubscription},
		{&errs.IneligibleError{Status: "CANCELED"}, http.StatusUnauthorized, api.CodeNotEligible},
		{errs.ErrNotFound, http.StatusNotFound, api.CodeNotFound},
		{errs.ErrNoActiveSubscription, http.StatusPaymentRequired, api.CodeNoActiveSub},
		{errs.ErrUpstreamUnavailable, http.StatusServiceUnavailable, api.CodeUpstreamUnavailable},
		{errors.New("stripe said: secret internals"), http.StatusInternalServerError, api.CodeInternal},
	}
	for _, tc := range cases {
		f := &fakeSvc{grantErr: tc.err}
		h := New(f, zaptest.NewLogger(t), nil).Handler()
		rec := do(t, h, http.MethodPost, api.PathStripeActivate, `{"sessionId":"cs_test_1","deviceId":"d"}`, nil)
		require.Equal(t, tc.status, rec.Code, "err %v", tc.err)
		e := decodeErr(t, rec)
		require.Equal(t, tc.code, e.Code)
		require.NotContains(t, e.Error, "secret internals")
		require.Nil(t, e.Valid)
	}

	f := &fakeSvc{grantErr: &errs.IneligibleError{Status: "PAST_DUE"}}
	rec := do(t, New(f, nil, nil).Handler(), http.MethodPost, api.PathStripeActivate, `{"sessionId":"cs_test_1","deviceId":"d"}`, nil)
	require.Equal(t, "PAST_DUE", decodeErr(t, rec).Status)
	require.Equal(t, service.SessionGrant{SessionID: "cs_test_1"}, f.lastReq)
}

func TestStripeVerify(t *testing.T) {
	t.Parallel()
	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeSvc{grant: model.Grant{Token: "tok", Snapshot: model.StatusSnapshot{
		Status: model.StatusActive, CurrentPeriodEnd: &end, CustomerID: "cus_1", SubscriptionID: "sub_1",
	}}}
	h := New(f, zaptest.NewLogger(t), nil).Handler()

	rec := do(t, h, http.MethodPost, api.PathStripeVerify, `{"email":"a@example.com","deviceId":"d"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.GrantResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "sub_1", resp.SubscriptionID)
	require.NotNil(t, resp.CurrentPeriodEnd)
	require.Equal(t, end.UnixMilli(), *resp.CurrentPeriodEnd)
	require.Equal(t, service.SubscriberGrant{Email: "a@example.com"}, f.lastReq)
}

func TestVerifyRoute(t *testing.T) {
	t.Parallel()
	hdr := map[string]string{"Authorization": "Bearer tok-1", api.HeaderDeviceID: "dev-1"}

	f := &fakeSvc{verify: model.VerificationResult{Valid: true, RenewedToken: "tok-2", Snapshot: model.StatusSnapshot{Status: model.StatusActive}}}
	h := New(f, zaptest.NewLogger(t), nil).Handler()
	rec := do(t, h, http.MethodGet, api.PathVerify, "", hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Valid)
	require.Equal(t, "tok-2", resp.RenewedToken)
	require.Equal(t, "tok-1", f.lastToken)
	require.Equal(t, "dev-1", f.lastDev)

	f.verify = model.VerificationResult{Valid: false, Snapshot: model.StatusSnapshot{Status: model.StatusCanceled}}
	rec = do(t, h, http.MethodGet, api.PathVerify, "", hdr)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	e := decodeErr(t, rec)
	require.NotNil(t, e.Valid)
	require.False(t, *e.Valid)
	require.Equal(t, "CANCELED", e.Status)
	require.Equal(t, api.CodeNotEligible, e.Code)

	for err, status := range map[error]int{
		errs.ErrInvalidToken:        http.StatusUnauthorized,
		errs.ErrTokenExpired:        http.StatusUnauthorized,
		errs.ErrDeviceMismatch:      http.StatusUnauthorized,
		errs.ErrMissingFields:       http.StatusBadRequest,
		errs.ErrUpstreamUnavailable: http.StatusServiceUnavailable,
	} {
		f.verifyErr = err
		rec = do(t, h, http.MethodGet, api.PathVerify, "", hdr)
		require.Equal(t, status, rec.Code, "err %v", err)
		e := decodeErr(t, rec)
		require.NotNil(t, e.Valid)
	}

	f.verifyErr = nil
	_ = do(t, h, http.MethodGet, api.PathVerify, "", map[string]string{"Authorization": "Basic abc"})
	require.Empty(t, f.lastToken, "non-bearer credentials are ignored")
	_ = do(t, h, http.MethodGet, api.PathVerify, "", map[string]string{"Authorization": "bearer  lower "})
	require.Equal(t, "lower", f.lastToken)
}

func TestPortalAndStatusRoutes(t *testing.T) {
	t.Parallel()
	hdr := map[string]string{"Authorization": "Bearer tok", api.HeaderDeviceID: "dev"}
	f := &fakeSvc{portal: "https://billing.example.com/x", snap: model.StatusSnapshot{Status: model.StatusTrialing, CancelAtPeriodEnd: true}}
	h := New(f, zaptest.NewLogger(t), nil).Handler()

	rec := do(t, h, http.MethodPost, api.PathStripePortal, "", hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	var pr api.PortalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pr))
	require.Equal(t, "https://billing.example.com/x", pr.URL)
	require.Empty(t, f.lastReturn)

	rec = do(t, h, http.MethodPost, api.PathStripePortal, `{"returnUrl":"https://app.example.com/back"}`, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://app.example.com/back", f.lastReturn)

	f.portalErr = errs.ErrForbidden
	rec = do(t, h, http.MethodPost, api.PathStripePortal, "", hdr)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, api.PathSubscriptionStatus, "", hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap api.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, "TRIALING", snap.Status)
	require.True(t, snap.CancelAtPeriodEnd)

	f.snapErr = errs.ErrMissingFields
	rec = do(t, h, http.MethodGet, api.PathSubscriptionStatus, "", hdr)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthMetricsAndRecover(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "growthledger_test_total", Help: "t"})
	reg.MustRegister(c)
	c.Inc()

	f := &fakeSvc{panicOnVerify: true}
	h := New(f, zaptest.NewLogger(t), reg).Handler()

	rec := do(t, h, http.MethodGet, api.PathHealth, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, api.PathMetrics, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "growthledger_test_total 1")

	rec = do(t, h, http.MethodGet, api.PathVerify, "", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, api.CodeInternal, decodeErr(t, rec).Code)

	rec = do(t, New(f, nil, nil).Handler(), http.MethodGet, api.PathMetrics, "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
