package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
)

// Controller defaults.
const (
	DefaultInterval     = 10 * time.Minute
	DefaultMaxStaleness = 72 * time.Hour
)

// ControllerConfig tunes the Controller. Zero values take the defaults.
type ControllerConfig struct {
	Interval     time.Duration
	MaxStaleness time.Duration // how long an unconfirmable entitlement is kept
	Now          func() time.Time
	Log          *zap.Logger
}

// Controller owns the cached entitlement: it applies grant and verification
// outcomes, runs the periodic re-verification and answers IsProEligible.
type Controller struct {
	store   Store
	backend Backend
	cfg     ControllerConfig
	log     *zap.Logger

	mu      sync.Mutex // serializes cache read-modify-write
	sf      singleflight.Group
	sched   *cron.Cron
	stopped chan struct{} // closed when sched is stopped
}

// NewController wires a Controller to its store and backend.
func NewController(store Store, backend Backend, cfg ControllerConfig) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxStaleness <= 0 {
		cfg.MaxStaleness = DefaultMaxStaleness
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Controller{store: store, backend: backend, cfg: cfg, log: cfg.Log}
}

// --- Lifecycle ---

// Start verifies once and then on every interval until Stop or ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.sched != nil {
		c.mu.Unlock()
		return errors.New("controller already started")
	}
	logger := cronLogger{c.log}
	sched := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", c.cfg.Interval), func() { c.backgroundRefresh(ctx) }); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("schedule verification: %w", err)
	}
	done := make(chan struct{})
	c.sched, c.stopped = sched, done
	sched.Start()
	c.mu.Unlock()

	// the watcher belongs to this schedule only; a later Start is not affected by ctx
	go func() {
		select {
		case <-ctx.Done():
			c.stopSchedule(sched)
		case <-done:
		}
	}()
	c.backgroundRefresh(ctx)
	return nil
}

// Stop halts the schedule and waits for a running verification to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched != nil {
		c.stopSchedule(sched)
	}
}

func (c *Controller) stopSchedule(sched *cron.Cron) {
	c.mu.Lock()
	if c.sched != sched {
		c.mu.Unlock()
		return
	}
	close(c.stopped)
	c.sched, c.stopped = nil, nil
	c.mu.Unlock()
	<-sched.Stop().Done()
}

func (c *Controller) backgroundRefresh(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.log.Warn("background verification", zap.Error(err))
	}
}

// --- Verification ---

// Refresh is the periodic check. When the server or billing cannot be reached
// the cached entitlement is kept and marked stale until MaxStaleness has passed
// since its last confirmation; then it is cleared. The error is still returned.
func (c *Controller) Refresh(ctx context.Context) error {
	err := c.verifyShared(ctx)
	if err == nil || !couldNotConfirm(err) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok, gerr := c.store.Get()
	if gerr != nil || !ok {
		return err
	}
	if c.cfg.Now().Sub(e.VerifiedAt) > c.cfg.MaxStaleness {
		c.log.Info("clearing entitlement unconfirmed for too long", zap.Time("verifiedAt", e.VerifiedAt))
		if cerr := c.store.Clear(); cerr != nil {
			return errors.Join(err, cerr)
		}
	}
	return err
}

// VerifyNow is the user-initiated check. It returns "could not confirm" errors
// to the caller and keeps the cached entitlement.
func (c *Controller) VerifyNow(ctx context.Context) error {
	return c.verifyShared(ctx)
}

// verifyShared collapses overlapping triggers into one server round trip.
func (c *Controller) verifyShared(ctx context.Context) error {
	_, err, _ := c.sf.Do("verify", func() (any, error) {
		return nil, c.verifyOnce(ctx)
	})
	return err
}

func (c *Controller) verifyOnce(ctx context.Context) error {
	e, ok, err := c.store.Get()
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	if !ok || e.Token == "" {
		return nil
	}
	deviceID, err := c.store.DeviceID()
	if err != nil {
		return fmt.Errorf("device id: %w", err)
	}

	res, verr := c.backend.Verify(ctx, e.Token, deviceID)

	c.mu.Lock()
	defer c.mu.Unlock()
	// a grant written while the request was in flight wins
	cur, ok, err := c.store.Get()
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	if !ok || cur.Token != e.Token {
		return nil
	}

	switch {
	case verr != nil && couldNotConfirm(verr):
		cur.Stale = true
		if err := c.store.Set(cur); err != nil {
			return errors.Join(verr, err)
		}
		return verr
	case verr != nil:
		c.log.Info("entitlement rejected, clearing cache", zap.Error(verr))
		if err := c.store.Clear(); err != nil {
			return errors.Join(verr, err)
		}
		return verr
	case !res.Valid:
		c.log.Info("entitlement revoked by billing, clearing cache", zap.String("status", string(res.Snapshot.Status)))
		if err := c.store.Clear(); err != nil {
			return err
		}
		return &errs.IneligibleError{Status: string(res.Snapshot.Status)}
	}

	next := Entitlement{Token: cur.Token, Snapshot: res.Snapshot, VerifiedAt: c.cfg.Now()}
	if res.RenewedToken != "" {
		next.Token = res.RenewedToken
	}
	if err := c.store.Set(next); err != nil {
		return err
	}
	return nil
}

// couldNotConfirm reports whether err leaves the entitlement undecided rather than rejected.
func couldNotConfirm(err error) bool {
	switch {
	case errors.Is(err, errs.ErrInvalidToken),
		errors.Is(err, errs.ErrTokenExpired),
		errors.Is(err, errs.ErrDeviceMismatch),
		errors.Is(err, errs.ErrNotEligible):
		return false
	default:
		return true
	}
}

// --- Grants ---

// UnlockOwner grants Pro with the owner passphrase.
func (c *Controller) UnlockOwner(ctx context.Context, key, routeSecret string) (model.StatusSnapshot, error) {
	return c.grant(ctx, func(deviceID string) (model.Grant, error) {
		return c.backend.UnlockOwner(ctx, deviceID, key, routeSecret)
	})
}

// Activate grants Pro from a completed checkout session.
func (c *Controller) Activate(ctx context.Context, sessionID string) (model.StatusSnapshot, error) {
	return c.grant(ctx, func(deviceID string) (model.Grant, error) {
		return c.backend.Activate(ctx, deviceID, sessionID)
	})
}

// RestoreSubscriber grants Pro to an existing subscriber by email.
func (c *Controller) RestoreSubscriber(ctx context.Context, email string) (model.StatusSnapshot, error) {
	return c.grant(ctx, func(deviceID string) (model.Grant, error) {
		return c.backend.Restore(ctx, deviceID, email)
	})
}

func (c *Controller) grant(_ context.Context, call func(deviceID string) (model.Grant, error)) (model.StatusSnapshot, error) {
	deviceID, err := c.store.DeviceID()
	if err != nil {
		return model.StatusSnapshot{}, fmt.Errorf("device id: %w", err)
	}
	g, err := call(deviceID)
	if err != nil {
		return model.StatusSnapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Set(Entitlement{Token: g.Token, Snapshot: g.Snapshot, VerifiedAt: c.cfg.Now()}); err != nil {
		return model.StatusSnapshot{}, fmt.Errorf("write cache: %w", err)
	}
	return g.Snapshot, nil
}

// Remove drops the local entitlement. Billing is not contacted and nothing is canceled.
func (c *Controller) Remove() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Clear()
}

// --- Queries ---

// IsProEligible reports whether the cached snapshot admits Pro features.
func (c *Controller) IsProEligible() bool {
	e, ok, err := c.store.Get()
	return err == nil && ok && e.Snapshot.Eligible()
}

// Status returns the cached entitlement; ok is false when nothing is cached.
func (c *Controller) Status() (Entitlement, bool, error) {
	return c.store.Get()
}

// LiveStatus asks the server for the current subscription snapshot without renewing.
func (c *Controller) LiveStatus(ctx context.Context) (model.StatusSnapshot, error) {
	e, deviceID, err := c.cachedToken()
	if err != nil {
		return model.StatusSnapshot{}, err
	}
	return c.backend.SubscriptionStatus(ctx, e.Token, deviceID)
}

// OpenBillingPortal returns the billing portal URL for the cached subscription.
func (c *Controller) OpenBillingPortal(ctx context.Context, returnURL string) (string, error) {
	e, deviceID, err := c.cachedToken()
	if err != nil {
		return "", err
	}
	return c.backend.PortalURL(ctx, e.Token, deviceID, returnURL)
}

// ErrNoEntitlement is returned by operations that need a cached token when none is cached.
var ErrNoEntitlement = errors.New("no entitlement on this device")

func (c *Controller) cachedToken() (Entitlement, string, error) {
	e, ok, err := c.store.Get()
	if err != nil {
		return Entitlement{}, "", err
	}
	if !ok || e.Token == "" {
		return Entitlement{}, "", ErrNoEntitlement
	}
	deviceID, err := c.store.DeviceID()
	if err != nil {
		return Entitlement{}, "", err
	}
	return e, deviceID, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
