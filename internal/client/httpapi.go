package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/and161185/growthledger/internal/api"
	"github.com/and161185/growthledger/internal/convert"
	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
)

// Backend is the entitlement server as seen by the Controller.
type Backend interface {
	UnlockOwner(ctx context.Context, deviceID, key, routeSecret string) (model.Grant, error)
	Activate(ctx context.Context, deviceID, sessionID string) (model.Grant, error)
	Restore(ctx context.Context, deviceID, email string) (model.Grant, error)
	Verify(ctx context.Context, token, deviceID string) (model.VerificationResult, error)
	SubscriptionStatus(ctx context.Context, token, deviceID string) (model.StatusSnapshot, error)
	PortalURL(ctx context.Context, token, deviceID, returnURL string) (string, error)
}

// APIConfig configures the HTTP API client.
type APIConfig struct {
	BaseURL    string
	Timeout    time.Duration // per request; 0 means 15s
	Retries    uint64        // extra attempts after a transport failure
	HTTPClient *http.Client  // optional, overrides Timeout
}

// API talks to the entitlement server over HTTP. Transport failures are
// reported as errs.ErrUpstreamUnavailable; error bodies map back to errs sentinels.
type API struct {
	base    string
	hc      *http.Client
	retries uint64
}

var _ Backend = (*API)(nil)

func NewAPI(cfg APIConfig) *API {
	hc := cfg.HTTPClient
	if hc == nil {
		if cfg.Timeout <= 0 {
			cfg.Timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &API{base: strings.TrimRight(cfg.BaseURL, "/"), hc: hc, retries: cfg.Retries}
}

func (a *API) UnlockOwner(ctx context.Context, deviceID, key, routeSecret string) (model.Grant, error) {
	var out api.GrantResponse
	err := a.do(ctx, http.MethodPost, api.PathOwnerUnlock, "", "", api.UnlockRequest{Key: key, DeviceID: deviceID, RouteSecret: routeSecret}, &out)
	if err != nil {
		return model.Grant{}, err
	}
	g := convert.FromGrantResponse(out)
	if g.Snapshot.Status == "" {
		g.Snapshot.Status = model.StatusOwner
	}
	return g, nil
}

func (a *API) Activate(ctx context.Context, deviceID, sessionID string) (model.Grant, error) {
	var out api.GrantResponse
	if err := a.do(ctx, http.MethodPost, api.PathStripeActivate, "", "", api.ActivateRequest{SessionID: sessionID, DeviceID: deviceID}, &out); err != nil {
		return model.Grant{}, err
	}
	return convert.FromGrantResponse(out), nil
}

func (a *API) Restore(ctx context.Context, deviceID, email string) (model.Grant, error) {
	var out api.GrantResponse
	if err := a.do(ctx, http.MethodPost, api.PathStripeVerify, "", "", api.RestoreRequest{Email: email, DeviceID: deviceID}, &out); err != nil {
		return model.Grant{}, err
	}
	return convert.FromGrantResponse(out), nil
}

func (a *API) Verify(ctx context.Context, token, deviceID string) (model.VerificationResult, error) {
	var out api.VerifyResponse
	err := a.do(ctx, http.MethodGet, api.PathVerify, token, deviceID, nil, &out)
	var ie *errs.IneligibleError
	if errors.As(err, &ie) {
		// billing answered: the entitlement is gone
		return model.VerificationResult{Valid: false, Snapshot: model.StatusSnapshot{Status: model.NormalizeStatus(ie.Status)}}, nil
	}
	if err != nil {
		return model.VerificationResult{}, err
	}
	return convert.FromVerifyResponse(out), nil
}

func (a *API) SubscriptionStatus(ctx context.Context, token, deviceID string) (model.StatusSnapshot, error) {
	var out api.Snapshot
	if err := a.do(ctx, http.MethodGet, api.PathSubscriptionStatus, token, deviceID, nil, &out); err != nil {
		return model.StatusSnapshot{}, err
	}
	return convert.FromWireSnapshot(out), nil
}

func (a *API) PortalURL(ctx context.Context, token, deviceID, returnURL string) (string, error) {
	var out api.PortalResponse
	if err := a.do(ctx, http.MethodPost, api.PathStripePortal, token, deviceID, api.PortalRequest{ReturnURL: returnURL}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// do sends one JSON request, retrying transport failures only.
func (a *API) do(ctx context.Context, method, path, token, deviceID string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = b
	}

	b := retry.WithMaxRetries(a.retries, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := a.once(ctx, method, path, token, deviceID, payload, out)
		var te *transportError
		if errors.As(err, &te) {
			return retry.RetryableError(err)
		}
		return err
	})
}

type transportError struct{ err error }

func (e *transportError) Error() string {
	return fmt.Sprintf("%v: %v", errs.ErrUpstreamUnavailable, e.err)
}
func (e *transportError) Unwrap() []error { return []error{errs.ErrUpstreamUnavailable, e.err} }

func (a *API) once(ctx context.Context, method, path, token, deviceID string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if deviceID != "" {
		req.Header.Set(api.HeaderDeviceID, deviceID)
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &transportError{err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e api.ErrorResponse
		if jerr := json.Unmarshal(raw, &e); jerr != nil || e.Code == "" {
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("%w: server status %d", errs.ErrUpstreamUnavailable, resp.StatusCode)
			}
			return fmt.Errorf("server status %d", resp.StatusCode)
		}
		return convert.ErrorFromResponse(e)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
