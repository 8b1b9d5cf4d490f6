package rotator

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff computes jittered exponential waits between attempts.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used when a RetryingClient is built without one.
var DefaultBackoff = Backoff{Base: 250 * time.Millisecond, Max: 5 * time.Second}

// Delay returns the wait before attempt+1. Half the delay is fixed and half
// is random.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	half := time.Duration(delay / 2)
	return half + jitter(half)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
