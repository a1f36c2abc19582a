package chain

import (
	"net/http"
	"time"

	"github.com/ybbus/httpretry"
)

// NewRetryingHTTPClient returns an http.Client which retries failed requests
// up to maxRetries times with an incremental backoff.
func NewRetryingHTTPClient(maxRetries int, backoff time.Duration) *http.Client {
	return httpretry.NewDefaultClient(
		httpretry.WithMaxRetryCount(maxRetries),

		// Retry on any error, 5xx status codes, 429 and 0 status codes.
		httpretry.WithRetryPolicy(retryable),

		// Retry with an incremental backoff policy.
		httpretry.WithBackoffPolicy(func(attemptNum int) time.Duration {
			return time.Duration(attemptNum+1) * backoff
		}),
	)
}

func retryable(statusCode int, err error) bool {
	return err != nil || statusCode >= 500 || statusCode == 0 || statusCode == http.StatusTooManyRequests
}
