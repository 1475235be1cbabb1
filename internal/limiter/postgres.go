package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG keeps one grant_limiter row per (subject, ip_hash), where subject names the
// guarded grant route ("owner", "subscriber"). Every time comparison runs on the
// database clock so replicas with skewed clocks agree on a lockout.
type PG struct {
	pool   pgxQuerier
	policy Policy
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Limiter = (*PG)(nil)

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool *pgxpool.Pool, p Policy) *PG {
	return &PG{pool: pool, policy: p}
}

// NewPGWithQuerier constructs a PostgreSQL-backed limiter over any pgx querier (pgxmock in tests).
func NewPGWithQuerier(q pgxQuerier, p Policy) *PG {
	return &PG{pool: q, policy: p}
}

// Allow reports whether a grant attempt may proceed and, if not, how long the lockout still runs.
func (l *PG) Allow(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
SELECT GREATEST(EXTRACT(EPOCH FROM blocked_until - now()), 0)::float8
FROM grant_limiter WHERE subject=$1 AND ip_hash=$2`
	var secs float64
	err := l.pool.QueryRow(ctx, q, subject, ipHash).Scan(&secs)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	case err != nil:
		return false, 0, err
	case secs > 0:
		return false, time.Duration(secs * float64(time.Second)), nil
	default:
		return true, 0, nil
	}
}

// Success forgets the address after a granted attempt. The row is dropped rather
// than zeroed: successful subscriber restores are the common case.
func (l *PG) Success(ctx context.Context, subject string, ipHash []byte) error {
	const q = `DELETE FROM grant_limiter WHERE subject=$1 AND ip_hash=$2`
	_, err := l.pool.Exec(ctx, q, subject, ipHash)
	return err
}

// Failure counts a refused attempt and places the lockout in the same statement
// once MaxFails is reached within Window of the previous failure.
func (l *PG) Failure(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO grant_limiter AS g (subject, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, CASE WHEN $4 <= 1 THEN now() + $5::interval ELSE 'epoch' END, now())
ON CONFLICT (subject, ip_hash) DO UPDATE SET
  fail_count = CASE WHEN now() - g.updated_at > $3::interval THEN 1 ELSE g.fail_count + 1 END,
  blocked_until = CASE
    WHEN (CASE WHEN now() - g.updated_at > $3::interval THEN 1 ELSE g.fail_count + 1 END) >= $4
    THEN now() + $5::interval
    ELSE g.blocked_until END,
  updated_at = now()
RETURNING fail_count, blocked_until > now()`
	var (
		fails   int
		blocked bool
	)
	err := l.pool.QueryRow(ctx, q, subject, ipHash, l.policy.Window, l.policy.MaxFails, l.policy.BlockFor).Scan(&fails, &blocked)
	if err != nil {
		return false, 0, err
	}
	if blocked {
		return true, l.policy.BlockFor, nil
	}
	return false, 0, nil
}
