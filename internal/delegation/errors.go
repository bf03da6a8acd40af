package delegation

import "errors"

// Validation errors.
var (
	ErrEmptyTask        = errors.New("task is required")
	ErrTaskTooLong      = errors.New("task exceeds maximum length")
	ErrFilesRequired    = errors.New("files are required for file-scoped delegation")
	ErrUnknownKind      = errors.New("unknown delegation kind")
	ErrDomainNotAllowed = errors.New("specialist domain not allowed by strategy")
)

// Policy errors.
var (
	ErrNotAllowed        = errors.New("delegation not allowed by strategy")
	ErrLimitReached      = errors.New("delegation limit reached")
	ErrMaxDepthExceeded  = errors.New("sub-agents cannot delegate")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Sub-loop errors.
var (
	ErrExhausted = errors.New("sub-agent exhausted its iteration budget")
)
