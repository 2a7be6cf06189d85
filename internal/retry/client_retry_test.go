package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff_DefaultPolicyIsFixedFiveSeconds(t *testing.T) {
	var prev time.Duration
	for i := 0; i < 5; i++ {
		prev = DefaultPolicy.NextBackoff(prev)
		assert.Equal(t, 5*time.Second, prev, "default delay is a fixed 5s sleep, attempt %d", i)
	}
}

func TestNextBackoff_MultiplierGrowsAndCapsAtMaxBackoff(t *testing.T) {
	p := Policy{MaxRetries: 3, InitialBackoff: 1 * time.Second, MaxBackoff: 3 * time.Second, Multiplier: 1.5, Jitter: 0.25}
	next := p.NextBackoff(1 * time.Second)
	assert.GreaterOrEqual(t, next, 1*time.Second)

	var prev time.Duration
	for i := 0; i < 10; i++ {
		prev = p.NextBackoff(prev)
	}
	assert.LessOrEqual(t, prev, p.MaxBackoff+p.MaxBackoff/4)
}

func TestNextBackoff_ZeroPreviousUsesInitialBackoff(t *testing.T) {
	p := Policy{InitialBackoff: 2 * time.Second, MaxBackoff: 10 * time.Second}
	assert.Equal(t, 2*time.Second, p.NextBackoff(0))
}

func TestIsTransient_MatchesKnownNetworkFailurePatterns(t *testing.T) {
	assert.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, IsTransient(errors.New("channel endpoint returned 503")))
	assert.True(t, IsTransient(errors.New("context deadline exceeded")))
}

func TestIsTransient_PermanentErrorsReturnFalse(t *testing.T) {
	assert.False(t, IsTransient(errors.New("invalid credentials")))
	assert.False(t, IsTransient(nil))
}

func TestIsTransient_CaseInsensitive(t *testing.T) {
	assert.True(t, IsTransient(errors.New("RATE LIMIT exceeded")))
}
