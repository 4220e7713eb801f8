package reddit

import (
	"context"
	"log"
)

// ExecuteWithRetry runs op, retrying only on throttling errors. The wait
// before retry n (starting at 0) is BackoffBase * 2^n. After maxRetries
// retries the last throttling error is returned.
func (c *Client) ExecuteWithRetry(ctx context.Context, op func(context.Context) error, maxRetries int) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil || !IsThrottled(err) {
			return err
		}
		if attempt >= maxRetries {
			return err
		}

		wait := c.backoffBase << attempt
		log.Printf("Rate limited, retrying in %s (attempt %d/%d)", wait, attempt+1, maxRetries)
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}
