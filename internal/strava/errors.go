package strava

import (
	"errors"
	"fmt"
)

var (
	// ErrReauthRequired means the refresh token is invalid or revoked and a
	// new interactive login (the auth command) is needed.
	ErrReauthRequired = errors.New("re-authentication required, run the auth command")

	// ErrRateLimited is returned once the bounded rate-limit retries for a
	// single request are exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrTrackNotAvailable means the activity has no exportable GPX track
	// (manual entries, treadmill runs, etc).
	ErrTrackNotAvailable = errors.New("activity has no exportable track")
)

// APIError is an unexpected, non-retryable response from the Strava API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected API response: status %d: %s", e.StatusCode, e.Body)
}

// transientError marks a failure worth retrying with backoff (network
// errors, 5xx responses).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
