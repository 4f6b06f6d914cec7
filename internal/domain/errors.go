package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Lifecycle errors
	ErrAlreadyRunning = errors.New("actor system is already running")
	ErrNotRunning     = errors.New("actor system is not running")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")

	// Addressing errors
	ErrActorNotFound   = errors.New("target actor not found")
	ErrActorShutdown   = errors.New("actor has been shut down")
	ErrNodeUnreachable = errors.New("node is unreachable")

	// Placement errors
	ErrNoEligibleActor = errors.New("no actor holds the required capabilities")
	ErrNoEligibleNode  = errors.New("no eligible node for placement")

	// Dispatch errors
	ErrUnknownMessageType    = errors.New("unknown message type")
	ErrUnknownSubtaskKind    = errors.New("unknown subtask work kind")
	ErrUnknownControlCommand = errors.New("unknown control command")

	// Envelope errors. ErrChecksumMismatch and ErrMessageExpired are always
	// reported together with ErrValidationFailed.
	ErrValidationFailed = errors.New("message validation failed")
	ErrChecksumMismatch = errors.New("payload checksum mismatch")
	ErrMessageExpired   = errors.New("message ttl expired")

	// Migration errors
	ErrMigrationFailed = errors.New("target node did not acknowledge actor handoff")
	ErrActorMigrating  = errors.New("actor is already migrating")

	// Queue errors
	ErrBackPressure = errors.New("inbound queue full, message rejected")

	// Task errors
	ErrNoSubtasks = errors.New("task carries no subtasks and no decomposer is configured")
	ErrTaskFailed = errors.New("one or more subtasks failed")
)
