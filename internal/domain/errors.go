package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared across layers.
var (
	ErrNotFound        = fmt.Errorf("not found")
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrAlreadyFinished = fmt.Errorf("already finished")
	ErrRuntimeStopped  = fmt.Errorf("agent runtime stopped")
	ErrBackend         = fmt.Errorf("agent backend failed")
)

// Store errors.
var (
	// ErrTransientStore marks contention the store is expected to recover from
	// (busy, locked, interrupted I/O). Safe to retry.
	ErrTransientStore = fmt.Errorf("store temporarily unavailable")
	// ErrIntegrity marks constraint violations. Retrying cannot help.
	ErrIntegrity = fmt.Errorf("store integrity violation")
	// ErrCorruption marks a damaged database file. Retrying cannot help.
	ErrCorruption = fmt.Errorf("store corruption detected")
	// ErrStore is the generic wrapper for every other store failure.
	ErrStore = fmt.Errorf("store operation failed")
)

// Orchestration errors.
var (
	ErrInvalidPipeline      = fmt.Errorf("pipeline requires at least one agent")
	ErrOrchestration        = fmt.Errorf("orchestration failed")
	ErrOrchestrationTimeout = fmt.Errorf("orchestration deadline exceeded")
)

// Context source errors.
var (
	ErrSourceSearch      = fmt.Errorf("context source search failed")
	ErrUnsupportedSource = fmt.Errorf("context source kind not supported yet")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Store.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// Code returns the machine-parseable error code for this error.
func (e *DomainError) Code() ErrorCode { return ErrorCodeOf(e.Err) }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrTransientStore)
}

// IsDegradable reports whether a failed run may fall back to a smaller pipeline.
// Caller bugs (empty pipeline, bad arguments) are never degradable.
func IsDegradable(err error) bool {
	if errors.Is(err, ErrInvalidPipeline) || errors.Is(err, ErrInvalidInput) {
		return false
	}
	return errors.Is(err, ErrOrchestration)
}

// ErrorCode is a machine-parseable error category for logs and exit messages.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeAlreadyFinished      ErrorCode = "ALREADY_FINISHED"
	CodeRuntimeStopped       ErrorCode = "RUNTIME_STOPPED"
	CodeBackend              ErrorCode = "BACKEND"
	CodeTransientStore       ErrorCode = "STORE_TRANSIENT"
	CodeIntegrity            ErrorCode = "STORE_INTEGRITY"
	CodeCorruption           ErrorCode = "STORE_CORRUPTION"
	CodeStore                ErrorCode = "STORE"
	CodeInvalidPipeline      ErrorCode = "INVALID_PIPELINE"
	CodeOrchestration        ErrorCode = "ORCHESTRATION"
	CodeOrchestrationTimeout ErrorCode = "ORCHESTRATION_TIMEOUT"
	CodeSourceSearch         ErrorCode = "SOURCE_SEARCH"
	CodeUnsupportedSource    ErrorCode = "SOURCE_UNSUPPORTED"
)

// codeOrder lists sentinels from most to least specific. A timeout is also an
// orchestration error and an integrity problem is also a store error, so the
// narrower sentinel has to win.
var codeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrOrchestrationTimeout, CodeOrchestrationTimeout},
	{ErrInvalidPipeline, CodeInvalidPipeline},
	{ErrOrchestration, CodeOrchestration},
	{ErrIntegrity, CodeIntegrity},
	{ErrCorruption, CodeCorruption},
	{ErrTransientStore, CodeTransientStore},
	{ErrStore, CodeStore},
	{ErrUnsupportedSource, CodeUnsupportedSource},
	{ErrSourceSearch, CodeSourceSearch},
	{ErrRuntimeStopped, CodeRuntimeStopped},
	{ErrBackend, CodeBackend},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrAlreadyFinished, CodeAlreadyFinished},
}

// ErrorCodeOf returns the machine-parseable error code for err.
// Returns CodeUnknown if no known sentinel is in the chain.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, c := range codeOrder {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}
