// Package limiter provides admission control for WebSocket dials.
//
// Connection creation is the only bursty operation against the upstream
// feed, so a single limiter is shared by every connection attempt within
// one manager. The manager treats it as an opaque scheduling dependency;
// under load a Wait may park a connection attempt for a long time.
package limiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates one connection attempt. Wait blocks until the attempt is
// admitted or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewDialLimiter returns a token-bucket limiter admitting perSecond dials
// with the given burst. *rate.Limiter satisfies Limiter directly.
func NewDialLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Unlimited admits every dial immediately. Used in tests and when the
// caller supplies no limiter budget.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
