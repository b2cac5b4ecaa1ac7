package gemini

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// withRetry runs call until it succeeds, fails with something other than a
// rate limit, or the attempt budget is spent. The wait between attempts
// honours ctx.
func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 1; attempt <= c.opts.RetryAttempts; attempt++ {
		err = call()
		if err == nil || !isRateLimited(err) || attempt == c.opts.RetryAttempts {
			return err
		}

		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", c.opts.RetryBackoff).
			Msg("Gemini rate limited, retrying")

		timer := time.NewTimer(c.opts.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
