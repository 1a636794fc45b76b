package retry

import (
	"context"
	"errors"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
)

var log = logging.Logger("retry")

const (
	defaultMinBackoff  = time.Second
	defaultMaxBackoff  = 5 * time.Minute
	defaultFactor      = 2
	defaultMaxAttempts = 10
)

// Policy computes the delay before a retry. attempt starts at 1 for the first
// retry. Returning false abandons the operation.
type Policy interface {
	NextDelay(attempt int) (time.Duration, bool)
}

// ExponentialBackoff doubles (by Factor) the delay of every attempt, with
// optional jitter, and gives up after MaxAttempts. MaxAttempts 0 never gives up.
type ExponentialBackoff struct {
	Min         time.Duration
	Max         time.Duration
	Factor      float64
	Jitter      bool
	MaxAttempts int
}

// DefaultPolicy is the policy used when none is configured
func DefaultPolicy() ExponentialBackoff {
	return ExponentialBackoff{
		Min:         defaultMinBackoff,
		Max:         defaultMaxBackoff,
		Factor:      defaultFactor,
		Jitter:      true,
		MaxAttempts: defaultMaxAttempts,
	}
}

func (p ExponentialBackoff) NextDelay(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	if attempt < 1 {
		attempt = 1
	}
	b := &backoff.Backoff{
		Min:    p.Min,
		Max:    p.Max,
		Factor: p.Factor,
		Jitter: p.Jitter,
	}
	return b.ForAttempt(float64(attempt - 1)), true
}

// Kind is the outcome of a retry decision
type Kind int

const (
	// RetryNow makes the operation eligible again immediately
	RetryNow Kind = iota
	// RetryAfter delays the operation by Decision.Delay
	RetryAfter
	// Abandon gives up; the caller must move the operation to a terminal state
	Abandon
)

func (k Kind) String() string {
	switch k {
	case RetryNow:
		return "retry-now"
	case RetryAfter:
		return "retry-after"
	case Abandon:
		return "abandon"
	default:
		return "unknown"
	}
}

// Decision is what to do after a failure
type Decision struct {
	Kind  Kind
	Delay time.Duration
}

// Manager turns a policy into retry decisions
type Manager struct {
	policy Policy
}

// NewManager returns a manager using p, or DefaultPolicy when p is nil
func NewManager(p Policy) *Manager {
	if p == nil {
		p = DefaultPolicy()
	}
	return &Manager{policy: p}
}

// Decide returns the decision for the given failed attempt, counting from 1
func (m *Manager) Decide(attempt int) Decision {
	delay, ok := m.policy.NextDelay(attempt)
	switch {
	case !ok:
		return Decision{Kind: Abandon}
	case delay <= 0:
		return Decision{Kind: RetryNow}
	default:
		return Decision{Kind: RetryAfter, Delay: delay}
	}
}

// Retry runs f up to attempts times while it fails with one of retryOn,
// sleeping sleep (doubled each time) between attempts. Errors that are not
// listed are returned immediately.
func Retry[T any](ctx context.Context, attempts int, sleep time.Duration, retryOn []error, f func() (T, error)) (result T, err error) {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Debugw("retrying after error", "attempt", i+1, "err", err)
			if sleep > 0 {
				select {
				case <-time.After(sleep):
				case <-ctx.Done():
					return result, ctx.Err()
				}
				sleep *= 2
			}
		}
		result, err = f()
		if err == nil || !errorIsIn(err, retryOn) {
			return result, err
		}
	}
	log.Warnw("giving up", "attempts", attempts, "err", err)
	return result, err
}

func errorIsIn(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
