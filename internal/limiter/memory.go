package limiter

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

type memState struct {
	fails        int
	lastFailure  time.Time
	blockedUntil time.Time
}

// Memory is an in-process limiter for single-node deployments without Postgres or Redis.
type Memory struct {
	mu     sync.Mutex
	policy Policy
	now    func() time.Time
	state  map[string]*memState
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-memory limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{policy: p, now: time.Now, state: make(map[string]*memState)}
}

func memKey(subject string, ipHash []byte) string {
	return subject + "|" + hex.EncodeToString(ipHash)
}

// Allow reports whether an attempt is currently allowed and a retry-after duration.
func (l *Memory) Allow(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.state[memKey(subject, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if wait := st.blockedUntil.Sub(l.now()); wait > 0 {
		return false, wait, nil
	}
	return true, 0, nil
}

// Success forgets the (subject, ip) entry.
func (l *Memory) Success(_ context.Context, subject string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.state, memKey(subject, ipHash))
	return nil
}

// Failure records a failed attempt; may place a block.
func (l *Memory) Failure(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	key := memKey(subject, ipHash)
	st, ok := l.state[key]
	if !ok {
		st = &memState{}
		l.state[key] = st
	}
	if now.Sub(st.lastFailure) > l.policy.Window {
		st.fails = 0
	}
	st.fails++
	st.lastFailure = now

	if st.fails >= l.policy.MaxFails {
		st.blockedUntil = now.Add(l.policy.BlockFor)
		return true, l.policy.BlockFor, nil
	}
	return false, 0, nil
}

// pruneLocked drops entries that are neither blocked nor inside the window,
// so the map does not grow without bound.
func (l *Memory) pruneLocked(now time.Time) {
	for k, st := range l.state {
		if now.After(st.blockedUntil) && now.Sub(st.lastFailure) > l.policy.Window {
			delete(l.state, k)
		}
	}
}
