package queue

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// AdaptiveDebugLogger throttles a recurring "queue busy" diagnostic so a
// stuck session doesn't spam logs: while the reported signature stays
// the same, the interval between emissions grows exponentially (min 10s,
// max 120s); any signature change resets it back to the floor.
type AdaptiveDebugLogger struct {
	mu        sync.Mutex
	backoff   *backoff.ExponentialBackOff
	lastSig   string
	nextEmit  time.Time
	logger    *zap.SugaredLogger
}

func NewAdaptiveDebugLogger() *AdaptiveDebugLogger {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Second
	b.MaxInterval = 120 * time.Second
	b.Multiplier = 1.6
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &AdaptiveDebugLogger{backoff: b}
}

// WithLogger attaches a structured logger; Emit is a no-op (still
// tracking timing state) if none is set, which is convenient in tests.
func (l *AdaptiveDebugLogger) WithLogger(logger *zap.SugaredLogger) *AdaptiveDebugLogger {
	l.logger = logger
	return l
}

// Emit logs msg under signature at most as often as the current
// back-off interval allows, resetting the interval whenever signature
// differs from the last call's.
func (l *AdaptiveDebugLogger) Emit(signature, msg string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if signature != l.lastSig {
		l.lastSig = signature
		l.backoff.Reset()
		l.nextEmit = now
	}
	if now.Before(l.nextEmit) {
		return false
	}
	if l.logger != nil {
		l.logger.Debugw(msg, "signature", signature)
	}
	l.nextEmit = now.Add(l.backoff.NextBackOff())
	return true
}
