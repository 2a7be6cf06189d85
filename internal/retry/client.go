// Package retry provides the inter-attempt delay policy the Notifier
// applies between channel-send attempts: a fixed sleep by default, with
// optional growth and jitter for callers that want a backoff curve.
package retry

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

// Policy controls how long to wait between retry attempts.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Multiplier grows the delay between consecutive attempts. Values
	// at or below 1 keep the delay fixed at InitialBackoff.
	Multiplier float64

	// Jitter adds up to this fraction of the delay at random, spreading
	// concurrent retries apart. Zero disables it.
	Jitter float64
}

// DefaultPolicy is the Notifier's retry budget: a fixed five-second
// sleep between send attempts, no growth, no jitter.
var DefaultPolicy = Policy{
	MaxRetries:     3,
	InitialBackoff: 5 * time.Second,
	MaxBackoff:     5 * time.Second,
	Multiplier:     1,
}

// sanitize fills in zero/negative fields with workable values.
func (p Policy) sanitize() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = DefaultPolicy.MaxRetries
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultPolicy.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// NextBackoff returns InitialBackoff for the first retry (previous <= 0),
// then the previous delay scaled by Multiplier, capped at MaxBackoff,
// with up to Jitter of the delay added at random.
func (p Policy) NextBackoff(previous time.Duration) time.Duration {
	p = p.sanitize()
	var backoff time.Duration
	if previous <= 0 {
		backoff = p.InitialBackoff
	} else {
		backoff = time.Duration(float64(previous) * p.Multiplier)
	}
	if backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}

	if p.Jitter <= 0 {
		return backoff
	}
	maxJitter := int64(float64(backoff) * p.Jitter)
	if maxJitter <= 0 {
		return backoff
	}
	jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		return backoff
	}
	return backoff + time.Duration(jitterVal.Int64())
}

var transientPatterns = []string{
	"timeout",
	"i/o timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"temporarily unavailable",
	"server error",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"network",
	"dns",
	"tcp",
	"no such host",
	"deadline exceeded",
	"tls handshake",
	"broken pipe",
	"eof",
}

// IsTransient reports whether err looks like a retriable network/server
// hiccup rather than a permanent rejection (bad credentials, malformed
// payload) a retry can't fix.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
