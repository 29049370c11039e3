package marketdata

import "time"

// SetRetryWait acorta el backoff en tests.
func (c *Client) SetRetryWait(d time.Duration) { c.retryWait = d }
