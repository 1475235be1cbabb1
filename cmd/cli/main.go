// Command glp manages the GrowthLedger Pro entitlement on this device.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/growthledger/internal/client"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries the persistent flags and the lazily built controller.
type app struct {
	serverURL string
	configDir string
	timeout   time.Duration
	interval  time.Duration
	retries   uint64
	verbose   bool

	log   *zap.Logger
	store *client.FileStore
	ctl   *client.Controller
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "glp",
		Short:        "Manage GrowthLedger Pro on this device",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.serverURL, "server", envOr("GROWTHLEDGER_SERVER", "http://localhost:8080"), "entitlement server base URL")
	pf.StringVar(&a.configDir, "config-dir", "", "directory for the entitlement cache (default $XDG_CONFIG_HOME/growthledger)")
	pf.DurationVar(&a.timeout, "timeout", 15*time.Second, "per-request timeout")
	pf.DurationVar(&a.interval, "interval", client.DefaultInterval, "verification interval for watch")
	pf.Uint64Var(&a.retries, "retries", 2, "retries after a network failure")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		versionCmd(),
		deviceCmd(a),
		unlockCmd(a),
		activateCmd(a),
		restoreCmd(a),
		verifyCmd(a),
		statusCmd(a),
		watchCmd(a),
		removeCmd(a),
		portalCmd(a),
		ownerDigestCmd(),
		genSecretCmd(),
	)
	return root
}

// controller builds the store, API client and controller on first use.
func (a *app) controller() (*client.Controller, error) {
	if a.ctl != nil {
		return a.ctl, nil
	}
	a.log = zap.NewNop()
	if a.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		a.log = l
	}
	dir := a.configDir
	if dir == "" {
		d, err := client.DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("config dir: %w", err)
		}
		dir = d
	}
	st, err := client.NewFileStore(dir, a.log)
	if err != nil {
		return nil, err
	}
	api := client.NewAPI(client.APIConfig{BaseURL: a.serverURL, Timeout: a.timeout, Retries: a.retries})
	a.store = st
	a.ctl = client.NewController(st, api, client.ControllerConfig{Interval: a.interval, Log: a.log})
	return a.ctl, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
