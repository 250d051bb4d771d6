package retry

import (
	"context"
	"time"

	gr "github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
)

// Policy retries an operation a bounded number of times with a fixed delay
// while the returned error satisfies Retryable.
type Policy struct {
	Attempts  int
	Delay     time.Duration
	Retryable func(err error) bool
}

func (p *Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := gr.WithMaxRetries(uint64(attempts-1), gr.NewConstant(p.Delay))
	attempt := 0
	return gr.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && p.Retryable(err) {
			log.WithError(err).
				WithField("op", name).
				WithField("attempt", attempt).
				Debug("retrying")
			return gr.RetryableError(err)
		}
		return err
	})
}
