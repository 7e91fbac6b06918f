package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	// ErrUpstreamUnavailable is returned when every quote endpoint failed for a call.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedResponse marks upstream payloads that fail schema validation.
	ErrMalformedResponse = errors.New("malformed upstream response")
	// ErrConfiguration marks an invalid pair or token reference.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrExecution marks a failed submission or confirmation.
	ErrExecution = errors.New("execution failed")
	// ErrNotEligible is returned by the execution gate for stale or weak opportunities.
	ErrNotEligible = errors.New("opportunity not eligible")
	// ErrFatalStartup aborts the process before the scan loop starts.
	ErrFatalStartup = errors.New("fatal startup error")
)
