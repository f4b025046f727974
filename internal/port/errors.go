package port

import "errors"

// Sentinel errors used across ports.
var (
	// ErrQueueUnavailable signals a queue backend failure on enqueue.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrUnauthorized means no usable token exists after a refresh attempt.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAdmissionDenied means the job was skipped by policy (paused repo,
	// plan limit, draft PR, empty or oversized diff).
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrAgentResponseMalformed means the agent output could not be parsed
	// even after sanitizing.
	ErrAgentResponseMalformed = errors.New("agent response malformed")

	// ErrAgentResponseInvalidShape means the agent output parsed but is not
	// the expected object shape.
	ErrAgentResponseInvalidShape = errors.New("agent response has invalid shape")

	// ErrSandboxTimeout means a sandbox command exceeded its wall clock.
	ErrSandboxTimeout = errors.New("sandbox command timed out")

	ErrRepoNotFound     = errors.New("repository not found")
	ErrSettingsNotFound = errors.New("user settings not found")
)
