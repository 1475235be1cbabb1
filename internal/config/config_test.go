package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/growthledger/internal/crypto"
	"github.com/and161185/growthledger/internal/service"
)

// Tests here use t.Setenv and therefore do not run in parallel.

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load(nil)
	require.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoad_EnvDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("OWNER_SALT", "salt")
	t.Setenv("OWNER_PEPPER", "pepper")
	t.Setenv("OWNER_KEY_DERIVED_HEX", "abcd")
	t.Setenv("BILLING_TOKEN_TTL", "12h")
	t.Setenv("LIMIT_MAX_FAILS", "7")
	t.Setenv("PBKDF2_ITERS", "")

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.JWTSecret)
	require.Equal(t, 12*time.Hour, cfg.BillingTokenTTL)
	require.Equal(t, service.DefaultOwnerTTL, cfg.OwnerTokenTTL)
	require.Equal(t, 7, cfg.Limit.MaxFails)
	require.Equal(t, crypto.KDFPBKDF2, cfg.OwnerKDF)
	require.Equal(t, crypto.DefaultIterations, cfg.OwnerIterations)

	sc := cfg.Service()
	require.Equal(t, []byte("salt:pepper"), sc.Owner.Salt)
	require.Equal(t, "abcd", sc.Owner.DerivedHex)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("OWNER_KDF", "")
	t.Setenv("PBKDF2_ITERS", "")

	cfg, err := Load([]string{"--jwt-secret", "from-flag", "--addr", ":9999", "--owner-kdf", "argon2id"})
	require.NoError(t, err)
	require.Equal(t, "from-flag", cfg.JWTSecret)
	require.Equal(t, ":9999", cfg.Addr)
	require.Equal(t, crypto.KDFArgon2id, cfg.OwnerKDF)
	require.Equal(t, defaultArgonTime, cfg.OwnerIterations)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")

	_, err := Load([]string{"--owner-kdf", "md5"})
	require.Error(t, err)

	_, err = Load([]string{"--owner-key-derived-hex", "abcd", "--owner-salt", ""})
	require.ErrorContains(t, err, "OWNER_SALT")

	_, err = Load([]string{"--limit-max-fails", "0"})
	require.Error(t, err)

	_, err = Load([]string{"--billing-token-ttl", "0s"})
	require.Error(t, err)
}
