package feed

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Dial gate defaults: at most 5 dials per second with 5 held slots. The
// upstream rate-limits connection attempts per IP; in-band frames are never
// throttled.
const (
	defaultDialRate       = 5
	defaultDialBurst      = 5
	defaultDialConcurrent = 5
)

// DialLimiter throttles outbound websocket dials. Implementations must be
// safe for concurrent use. Callers may substitute their own via
// Options.BurstLimiter.
type DialLimiter interface {
	// Acquire blocks until a dial slot is available or ctx is done. The
	// returned release function must be called once the dial attempt
	// finishes, success or not.
	Acquire(ctx context.Context) (release func(), err error)
}

// DialGate is the default DialLimiter: a token bucket on dial starts plus a
// cap on concurrently held slots.
type DialGate struct {
	limiter *rate.Limiter
	slots   chan struct{}
}

// NewDialGate builds a gate allowing perSecond dial starts (burst tokens
// available at once) and at most concurrent dials in flight. Zero or
// negative arguments fall back to the defaults.
func NewDialGate(perSecond float64, burst, concurrent int) *DialGate {
	if perSecond <= 0 {
		perSecond = defaultDialRate
	}
	if burst <= 0 {
		burst = defaultDialBurst
	}
	if concurrent <= 0 {
		concurrent = defaultDialConcurrent
	}
	return &DialGate{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		slots:   make(chan struct{}, concurrent),
	}
}

// Acquire takes a concurrency slot, then waits for a rate token.
func (g *DialGate) Acquire(ctx context.Context) (func(), error) {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("dial slot: %w", ctx.Err())
	}
	if err := g.limiter.Wait(ctx); err != nil {
		<-g.slots
		return nil, fmt.Errorf("dial token: %w", err)
	}
	return func() { <-g.slots }, nil
}
