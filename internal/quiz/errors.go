package quiz

import "errors"

var (
	// ErrCardNotFound reports a referenced flashcard that no longer
	// exists. The orchestrator apologizes and resets the session.
	ErrCardNotFound = errors.New("flashcard not found")
	// ErrGraderFailure reports an unavailable or malformed grading
	// result. The session is left unchanged so the user can retry.
	ErrGraderFailure = errors.New("grader failure")
	// ErrGatewayFailure reports a failed outbound send. Reviews and
	// state already committed are never rolled back because of it.
	ErrGatewayFailure = errors.New("gateway failure")
	// ErrConfiguration reports bad per-user or service configuration,
	// such as an unparseable timezone. Batch paths skip the user;
	// single-user paths surface it.
	ErrConfiguration = errors.New("configuration error")
	// ErrConcurrencyConflict reports a transition that kept losing the
	// conversation compare-and-swap after retries.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
