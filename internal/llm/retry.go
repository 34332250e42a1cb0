package llm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spherical/register-extractor/internal/domain"
)

// RetryConfig bounds how hard a client retries transient provider failures.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns three retries starting at one second, capped at 30s.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// delay is the wait before retry number attempt+1. A Retry-After header in
// seconds overrides the exponential schedule; both are capped at MaxBackoff.
func (rc *RetryConfig) delay(attempt int, resp *http.Response) time.Duration {
	d := rc.InitialBackoff << attempt
	if d <= 0 || d > rc.MaxBackoff {
		d = rc.MaxBackoff
	}
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			d = time.Duration(secs) * time.Second
		}
	}
	if d > rc.MaxBackoff {
		d = rc.MaxBackoff
	}
	return d
}

// retryable reports whether a provider status is worth another attempt:
// throttling and upstream unavailability.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusInternalServerError ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

// send performs do until it yields a non-retryable response or attempts run
// out. The final response is returned whatever its status so the caller can
// report it; transport errors after the last attempt become an APIError.
func (c *Client) send(ctx context.Context, do func() (*http.Response, error)) (*http.Response, error) {
	rc := c.retry
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := do()
		switch {
		case err != nil:
			lastErr = err
		case !retryable(resp.StatusCode) || attempt == rc.MaxRetries:
			return resp, nil
		default:
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		}

		if attempt == rc.MaxRetries {
			return nil, domain.APIError(fmt.Sprintf("request failed after %d retries", rc.MaxRetries), lastErr)
		}

		wait := rc.delay(attempt, resp)
		if resp != nil {
			resp.Body.Close()
		}
		c.logger.Warn().
			Int("attempt", attempt+1).
			Int("max_retries", rc.MaxRetries).
			Dur("backoff", wait).
			Err(lastErr).
			Msg("Provider request failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
