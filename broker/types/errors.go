package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrSessionClosed is returned for any operation on a client whose session
// has been closed by Logout. Closed is terminal.
var ErrSessionClosed = errors.New("session is closed")

// AuthError means the credentials or the refresh token were rejected by the
// server. It is never retried; the caller needs a fresh Login.
type AuthError struct {
	Endpoint   string
	StatusCode int
	Detail     string
}

func (e *AuthError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("auth rejected (%d) on %s: %s", e.StatusCode, e.Endpoint, e.Detail)
	}
	return fmt.Sprintf("auth rejected (%d) on %s", e.StatusCode, e.Endpoint)
}

// ChallengeError means the multi-factor verification flow failed or the
// configured attempt budget was exhausted.
type ChallengeError struct {
	Attempts int
	Detail   string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("challenge verification failed after %d attempt(s): %s", e.Attempts, e.Detail)
}

// NetworkError wraps a transport-level failure that survived the retry
// budget.
type NetworkError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure on %s after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError means the server kept answering 429 until the retry budget
// ran out.
type RateLimitError struct {
	Endpoint   string
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s after %d attempt(s)", e.Endpoint, e.Attempts)
}

// ServerError means the server kept answering 5xx until the retry budget ran
// out.
type ServerError struct {
	Endpoint   string
	StatusCode int
	Attempts   int
	Body       json.RawMessage
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d on %s after %d attempt(s)", e.StatusCode, e.Endpoint, e.Attempts)
}

// RequestError is a non-retryable client-side 4xx. The decoded error body is
// attached so the failure can be diagnosed without re-running the call.
type RequestError struct {
	Endpoint   string
	StatusCode int
	Body       json.RawMessage
	Detail     string
}

func (e *RequestError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("request rejected (%d) on %s: %s", e.StatusCode, e.Endpoint, e.Detail)
	}
	return fmt.Sprintf("request rejected (%d) on %s", e.StatusCode, e.Endpoint)
}
