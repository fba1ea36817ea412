package vision

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
)

// RetryPolicy defines the uniform retry behavior applied to every remote
// call: a bounded number of attempts with a fixed delay between them.
// Transport errors and designated status codes are retryable; any other
// non-success status fails immediately without retry.
type RetryPolicy struct {
	MaxRetries           int
	Delay                time.Duration
	RetryableStatusCodes []int
}

// NewRetryPolicy creates the default policy for the understanding
// service. 500 and 424 are the statuses the service returns for
// transient backend conditions.
func NewRetryPolicy(maxRetries int, delay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:           maxRetries,
		Delay:                delay,
		RetryableStatusCodes: []int{500, 424},
	}
}

// attempt is one remote call: status code, response body, transport error
type attempt func() (int, []byte, error)

// Execute runs fn until it succeeds, returns a non-retryable status, or
// retries are exhausted. Every attempt is logged with its elapsed time.
// The last observed status, body, and error are returned; the caller maps
// non-200 results to a failure value.
func (p *RetryPolicy) Execute(ctx context.Context, logger arbor.ILogger, operation string, fn attempt) (int, []byte, error) {
	var (
		statusCode int
		body       []byte
		lastErr    error
	)

	for retry := 0; ; retry++ {
		start := time.Now()
		statusCode, body, lastErr = fn()
		elapsed := time.Since(start)

		if lastErr == nil && statusCode == 200 {
			logger.Info().
				Str("operation", operation).
				Dur("elapsed", elapsed).
				Msg("API call successful")
			return statusCode, body, nil
		}

		retryable := lastErr != nil || p.isRetryableStatusCode(statusCode)
		if !retryable {
			logger.Error().
				Str("operation", operation).
				Int("status_code", statusCode).
				Dur("elapsed", elapsed).
				Msg("API call failed")
			return statusCode, body, nil
		}

		if retry >= p.MaxRetries {
			if lastErr != nil {
				logger.Error().
					Str("operation", operation).
					Int("retries", p.MaxRetries).
					Dur("elapsed", elapsed).
					Err(lastErr).
					Msg("API call failed after retries")
			} else {
				logger.Error().
					Str("operation", operation).
					Int("status_code", statusCode).
					Int("retries", p.MaxRetries).
					Dur("elapsed", elapsed).
					Msg("API call failed after retries")
			}
			return statusCode, body, lastErr
		}

		logger.Warn().
			Str("operation", operation).
			Int("status_code", statusCode).
			Int("retry", retry+1).
			Int("max_retries", p.MaxRetries).
			Dur("elapsed", elapsed).
			Dur("delay", p.Delay).
			Err(lastErr).
			Msg("API call failed, retrying after delay")

		select {
		case <-ctx.Done():
			return statusCode, body, ctx.Err()
		case <-time.After(p.Delay):
		}
	}
}

func (p *RetryPolicy) isRetryableStatusCode(statusCode int) bool {
	for _, code := range p.RetryableStatusCodes {
		if statusCode == code {
			return true
		}
	}
	return false
}
