package reddit

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfiguration means the client has no credentials to authenticate with.
var ErrConfiguration = errors.New("reddit: client id and client secret are required")

// AuthenticationError is returned when the token exchange is rejected.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("reddit: authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ThrottlingError is returned for HTTP 429 responses.
type ThrottlingError struct {
	RetryAfter time.Duration
}

func (e *ThrottlingError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("reddit: rate limited (retry after %s)", e.RetryAfter)
	}
	return "reddit: rate limited"
}

// RequestError is any non-throttling failure of a data request.
type RequestError struct {
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("reddit: request %s: %v", e.Path, e.Err)
	case e.Body != "":
		return fmt.Sprintf("reddit: request %s returned %d: %s", e.Path, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("reddit: request %s returned %d", e.Path, e.StatusCode)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsThrottled reports whether err is, or wraps, a ThrottlingError.
func IsThrottled(err error) bool {
	var te *ThrottlingError
	return errors.As(err, &te)
}
