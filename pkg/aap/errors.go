package aap

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials maps a 401 from the controller's token endpoint.
var ErrInvalidCredentials = errors.New("invalid username or password")

// AuthError covers authentication failures other than bad credentials
// (unreachable controller, unexpected status).
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from the controller.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("controller request failed (status=%d, url=%s): %s", e.StatusCode, e.URL, e.Body)
}

// JobTimeoutError is a job still non-terminal after the retry ceiling.
// Distinct from JobFailedError: the remote job keeps running out-of-band,
// the conversation just stops waiting.
type JobTimeoutError struct {
	JobID    int
	Attempts int
	Status   string
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("Job %d timed out after %d seconds (Status: %s)", e.JobID, e.Attempts, e.Status)
}

// JobFailedError carries the composed diagnostic block for a failed job.
type JobFailedError struct {
	JobID      int
	Diagnostic string
}

func (e *JobFailedError) Error() string { return e.Diagnostic }
