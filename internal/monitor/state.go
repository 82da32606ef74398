package monitor

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/htlc/internal/contract"
	"github.com/roach88/htlc/internal/htlc"
)

// State is the reconciliation state of one tracked entry.
type State int

const (
	// StateActive entries are live and may still be unlocked or reclaimed.
	StateActive State = iota + 1

	// StateWaiting entries have expired but only the counterparty can
	// reclaim them. They leave the loop only when that reclaim is observed.
	StateWaiting

	// StateResolved is terminal.
	StateResolved

	// StateVanished entries were gone from the contract when the loop tried
	// to reclaim them. They stay tracked for settleRetries cycles so the
	// call that removed them can still be matched.
	StateVanished
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateWaiting:
		return "waiting"
	case StateResolved:
		return "resolved"
	case StateVanished:
		return "vanished"
	default:
		return "unknown"
	}
}

// matches reports whether a settled call can resolve an entry in state s.
// The contract settles a Reclaim only after expiry, so a Reclaim also
// resolves an entry whose expiry the loop has not observed yet.
func (s State) matches(call contract.Call) bool {
	switch call.(type) {
	case contract.UnlockCall:
		return s == StateActive || s == StateVanished
	case contract.ReclaimCall:
		return s == StateActive || s == StateWaiting || s == StateVanished
	default:
		return false
	}
}

// tracked is the loop-owned record for one entry.
type tracked struct {
	entry *htlc.Entry
	state State

	// Reclaim retry pacing. nextAttempt is wall time; zero means now.
	backoff     *backoff.ExponentialBackOff
	nextAttempt time.Time
	attempts    int

	// Cycles spent in StateVanished, and the lookup error to report when
	// they run out.
	vanishedCycles int
	vanishedErr    error
}

// BackoffConfig paces reclaim retries after failed submissions.
// An InitialInterval of zero retries every cycle.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64 // randomization factor in [0, 1)
}

// DefaultBackoff returns the default reclaim retry pacing.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		Jitter:          0.5,
	}
}

func (c BackoffConfig) build() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.Jitter
	b.Reset()
	return b
}
