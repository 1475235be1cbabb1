package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/growthledger/internal/client"
	"github.com/and161185/growthledger/internal/crypto"
	"github.com/and161185/growthledger/internal/errs"
	"github.com/and161185/growthledger/internal/model"
)

// statusView is what status and the grant commands print.
type statusView struct {
	Pro               bool       `json:"pro"`
	Status            string     `json:"status,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd,omitempty"`
	CustomerID        string     `json:"customerId,omitempty"`
	SubscriptionID    string     `json:"subscriptionId,omitempty"`
	VerifiedAt        *time.Time `json:"verifiedAt,omitempty"`
	Stale             bool       `json:"stale,omitempty"`
}

func viewOf(s model.StatusSnapshot) statusView {
	return statusView{
		Pro:               s.Eligible(),
		Status:            string(s.Status),
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CustomerID:        s.CustomerID,
		SubscriptionID:    s.SubscriptionID,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "glp %s (%s)\n", version, buildDate)
		},
	}
}

func deviceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Print this device's identifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.controller(); err != nil {
				return err
			}
			id, err := a.store.DeviceID()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func unlockCmd(a *app) *cobra.Command {
	var key, routeSecret string
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock Pro with the owner passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			k, err := readSecret(cmd.InOrStdin(), key)
			if err != nil {
				return err
			}
			snap, err := ctl.UnlockOwner(cmd.Context(), k, routeSecret)
			if err != nil {
				return explain(err, notGranted)
			}
			printJSON(cmd.OutOrStdout(), viewOf(snap))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", `owner passphrase ("-" reads stdin)`)
	cmd.Flags().StringVar(&routeSecret, "route-secret", "", "owner unlock route secret, if the server requires one")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func activateCmd(a *app) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate Pro from a completed checkout session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			snap, err := ctl.Activate(cmd.Context(), session)
			if err != nil {
				return explain(err, notGranted)
			}
			printJSON(cmd.OutOrStdout(), viewOf(snap))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "checkout session id (cs_...)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func restoreCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore Pro for an existing subscriber",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			snap, err := ctl.RestoreSubscriber(cmd.Context(), email)
			if err != nil {
				return explain(err, notGranted)
			}
			printJSON(cmd.OutOrStdout(), viewOf(snap))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "billing email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func verifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-verify the cached entitlement now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			if err := ctl.VerifyNow(cmd.Context()); err != nil {
				return explain(err, removed)
			}
			return printStatus(cmd, ctl, false)
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	var live bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the cached entitlement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			return printStatus(cmd, ctl, live)
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "ask billing for the current subscription state")
	return cmd
}

func printStatus(cmd *cobra.Command, ctl *client.Controller, live bool) error {
	if live {
		snap, err := ctl.LiveStatus(cmd.Context())
		if err != nil {
			return explain(err, notActive)
		}
		printJSON(cmd.OutOrStdout(), viewOf(snap))
		return nil
	}
	e, ok, err := ctl.Status()
	if err != nil {
		return err
	}
	if !ok {
		printJSON(cmd.OutOrStdout(), statusView{Pro: false})
		return nil
	}
	v := viewOf(e.Snapshot)
	v.Pro = ctl.IsProEligible()
	v.Stale = e.Stale
	if !e.VerifiedAt.IsZero() {
		at := e.VerifiedAt
		v.VerifiedAt = &at
	}
	printJSON(cmd.OutOrStdout(), v)
	return nil
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the entitlement verified until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := ctl.Start(ctx); err != nil {
				return err
			}
			defer ctl.Stop()
			fmt.Fprintf(cmd.ErrOrStderr(), "verifying every %s, pro=%v\n", a.interval, ctl.IsProEligible())
			<-ctx.Done()
			return nil
		},
	}
}

func removeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Remove Pro from this device (billing is not canceled)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			if err := ctl.Remove(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed from this device")
			return nil
		},
	}
}

func portalCmd(a *app) *cobra.Command {
	var returnURL string
	cmd := &cobra.Command{
		Use:   "portal",
		Short: "Print a billing portal link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			u, err := ctl.OpenBillingPortal(cmd.Context(), returnURL)
			if err != nil {
				return explain(err, notActive)
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
	cmd.Flags().StringVar(&returnURL, "return-url", "", "where the portal sends the user back")
	return cmd
}

func ownerDigestCmd() *cobra.Command {
	var key, salt, pepper, kdf string
	var iters int
	cmd := &cobra.Command{
		Use:   "owner-digest",
		Short: "Print OWNER_KEY_DERIVED_HEX for a passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := crypto.ParseKDF(kdf)
			if err != nil {
				return err
			}
			secret, err := readSecret(cmd.InOrStdin(), key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypto.DeriveHex(k, []byte(secret), crypto.OwnerSalt(salt, pepper), iters))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", `owner passphrase ("-" reads stdin)`)
	cmd.Flags().StringVar(&salt, "salt", "", "OWNER_SALT")
	cmd.Flags().StringVar(&pepper, "pepper", "", "OWNER_PEPPER")
	cmd.Flags().IntVar(&iters, "iters", crypto.DefaultIterations, "PBKDF2 iterations (argon2id: time cost)")
	cmd.Flags().StringVar(&kdf, "kdf", string(crypto.KDFPBKDF2), "pbkdf2|argon2id")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("salt")
	return cmd
}

func genSecretCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "gen-secret",
		Short: "Print a random hex secret for JWT_SECRET, OWNER_SALT or OWNER_PEPPER",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if n < 16 {
				return fmt.Errorf("--bytes must be at least 16, got %d", n)
			}
			b, err := crypto.RandBytes(n)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(b))
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "bytes", 32, "random bytes before hex encoding")
	return cmd
}

// readSecret returns v, or the first line of r when v is "-".
func readSecret(r io.Reader, v string) (string, error) {
	if v != "-" {
		return v, nil
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty secret on stdin")
	}
	return line, nil
}

// What an ineligible subscription means for the command that ran into it.
const (
	notGranted = "Pro was not activated"
	removed    = "Pro removed from this device"
	notActive  = "Pro is not active"
)

// explain turns protocol failures into messages for the terminal.
func explain(err error, whenIneligible string) error {
	var ie *errs.IneligibleError
	switch {
	case errors.As(err, &ie):
		return fmt.Errorf("subscription is %s; %s", strings.ToLower(ie.Status), whenIneligible)
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		return fmt.Errorf("verification failed, try again: %w", err)
	case errors.Is(err, errs.ErrInvalidCredential):
		return errors.New("invalid key")
	case errors.Is(err, errs.ErrRateLimited):
		return errors.New("too many attempts, try again later")
	case errors.Is(err, client.ErrNoEntitlement):
		return errors.New("pro is not active on this device")
	default:
		return err
	}
}
