// Package config loads entitlement server settings from flags, the environment and an optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/and161185/growthledger/internal/crypto"
	"github.com/and161185/growthledger/internal/limiter"
	"github.com/and161185/growthledger/internal/service"
)

// Config is the complete server configuration.
type Config struct {
	Addr string
	Dev  bool

	JWTSecret string
	JWTIssuer string

	OwnerSalt        string
	OwnerPepper      string
	OwnerKDF         crypto.KDF
	OwnerIterations  int
	OwnerDerivedHex  string
	OwnerRouteSecret string

	OwnerTokenTTL   time.Duration
	BillingTokenTTL time.Duration

	StripeSecretKey string
	StripeTimeout   time.Duration
	PortalReturnURL string

	DatabaseDSN string // enables the Postgres limiter and migrations
	RedisAddr   string // enables the Redis limiter when DatabaseDSN is empty

	Limit limiter.Policy
}

// argon2id time cost used when OWNER_KDF=argon2id and no iteration count is set
const defaultArgonTime = 3

// Load reads .env (if present), then parses args with every flag defaulting to
// its environment variable.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load() // a missing .env is normal in production

	var (
		cfg   Config
		kdf   string
		iters int
	)
	pol := limiter.DefaultPolicy()

	fs := flag.NewFlagSet("growthledger-server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", envStr("ADDR", ":8080"), "listen address")
	fs.BoolVar(&cfg.Dev, "dev", envBool("DEV", false), "development logging")

	fs.StringVar(&cfg.JWTSecret, "jwt-secret", envStr("JWT_SECRET", ""), "HS256 signing secret (required)")
	fs.StringVar(&cfg.JWTIssuer, "jwt-issuer", envStr("JWT_ISSUER", "growthledger"), "token issuer claim")

	fs.StringVar(&cfg.OwnerSalt, "owner-salt", envStr("OWNER_SALT", ""), "owner passphrase salt")
	fs.StringVar(&cfg.OwnerPepper, "owner-pepper", envStr("OWNER_PEPPER", ""), "owner passphrase pepper")
	fs.StringVar(&kdf, "owner-kdf", envStr("OWNER_KDF", string(crypto.KDFPBKDF2)), "owner passphrase KDF: pbkdf2|argon2id")
	fs.IntVar(&iters, "pbkdf2-iters", envInt("PBKDF2_ITERS", 0), "KDF iterations (argon2id: time cost)")
	fs.StringVar(&cfg.OwnerDerivedHex, "owner-key-derived-hex", envStr("OWNER_KEY_DERIVED_HEX", ""), "expected owner digest; empty disables owner unlock")
	fs.StringVar(&cfg.OwnerRouteSecret, "owner-route-secret", envStr("OWNER_UNLOCK_ROUTE_SECRET", ""), "optional owner unlock route secret")

	fs.DurationVar(&cfg.OwnerTokenTTL, "owner-token-ttl", envDur("OWNER_TOKEN_TTL", service.DefaultOwnerTTL), "owner token TTL")
	fs.DurationVar(&cfg.BillingTokenTTL, "billing-token-ttl", envDur("BILLING_TOKEN_TTL", service.DefaultBillingTTL), "billing token TTL")

	fs.StringVar(&cfg.StripeSecretKey, "stripe-secret-key", envStr("STRIPE_SECRET_KEY", ""), "Stripe secret key")
	fs.DurationVar(&cfg.StripeTimeout, "stripe-timeout", envDur("STRIPE_TIMEOUT", 10*time.Second), "Stripe request timeout")
	fs.StringVar(&cfg.PortalReturnURL, "portal-return-url", envStr("PORTAL_RETURN_URL", ""), "default billing portal return URL")

	fs.StringVar(&cfg.DatabaseDSN, "dsn", envStr("DATABASE_DSN", ""), "PostgreSQL DSN for the attempt limiter")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", envStr("REDIS_ADDR", ""), "Redis address for the attempt limiter")

	fs.DurationVar(&cfg.Limit.Window, "limit-window", envDur("LIMIT_WINDOW", pol.Window), "failed attempt window")
	fs.IntVar(&cfg.Limit.MaxFails, "limit-max-fails", envInt("LIMIT_MAX_FAILS", pol.MaxFails), "failed attempts before lockout")
	fs.DurationVar(&cfg.Limit.BlockFor, "limit-block-for", envDur("LIMIT_BLOCK_FOR", pol.BlockFor), "lockout duration")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	k, err := crypto.ParseKDF(kdf)
	if err != nil {
		return nil, err
	}
	cfg.OwnerKDF = k
	cfg.OwnerIterations = iters
	if cfg.OwnerIterations <= 0 {
		cfg.OwnerIterations = crypto.DefaultIterations
		if k == crypto.KDFArgon2id {
			cfg.OwnerIterations = defaultArgonTime
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.OwnerDerivedHex != "" && c.OwnerSalt == "" {
		missing = append(missing, "OWNER_SALT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.OwnerTokenTTL <= 0 || c.BillingTokenTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Limit.Window <= 0 || c.Limit.MaxFails <= 0 || c.Limit.BlockFor <= 0 {
		return errors.New("limiter window, max fails and block duration must be positive")
	}
	return nil
}

// Service returns the entitlement service settings.
func (c *Config) Service() service.Config {
	return service.Config{
		Owner: service.OwnerConfig{
			KDF:         c.OwnerKDF,
			Salt:        crypto.OwnerSalt(c.OwnerSalt, c.OwnerPepper),
			Iterations:  c.OwnerIterations,
			DerivedHex:  c.OwnerDerivedHex,
			RouteSecret: c.OwnerRouteSecret,
		},
		OwnerTTL:        c.OwnerTokenTTL,
		BillingTTL:      c.BillingTokenTTL,
		PortalReturnURL: c.PortalReturnURL,
	}
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}
