package agent

import (
	"context"
	"math/rand"
	"time"
)

// The orchestrator owns retry policy for model calls: adapters make exactly
// one attempt and surface transient failures, and the loop retries the
// current call with exponential backoff, discarding any text already
// streamed and emitting a restart marker so observers reset theirs too.
const (
	// providerRetryMaxAttempts is the number of retries after the first
	// failed model call.
	providerRetryMaxAttempts = 2

	providerRetryBaseBackoff = 500 * time.Millisecond
	providerRetryMaxBackoff  = 8 * time.Second
)

// providerRetryBackoff returns the jittered exponential backoff before retry
// n (0-based): base*2^n capped at the maximum, with up to 50% added jitter
// so synchronized callers fan out.
func providerRetryBackoff(retry int) time.Duration {
	backoff := providerRetryBaseBackoff
	for i := 0; i < retry && backoff < providerRetryMaxBackoff; i++ {
		backoff *= 2
	}
	if backoff > providerRetryMaxBackoff {
		backoff = providerRetryMaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	return backoff + jitter
}

// sleepOrDone waits out the backoff unless ctx ends first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
