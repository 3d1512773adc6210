package email

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled paces sends to stay under the provider's rate limit.
type Throttled struct {
	next    Mailer
	limiter *rate.Limiter
}

// NewThrottled allows perSecond sends with the given burst (min 1).
func NewThrottled(next Mailer, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Send implements Mailer. It blocks until a token is free or ctx ends.
func (t *Throttled) Send(ctx context.Context, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("email: throttle: %w", err)
	}
	return t.next.Send(ctx, msg)
}
