package core

import "errors"

// Error taxonomy for the cognitive-cycle core. These are kinds, not wrapped
// detail types: callers use errors.Is against the sentinels below and attach
// context with fmt.Errorf("...: %w", ErrX).
var (
	// ErrSchemaViolation indicates a payload failed structural validation.
	ErrSchemaViolation = errors.New("core: schema violation")
	// ErrPhaseViolation indicates a tool call was attempted outside its allowed phases.
	ErrPhaseViolation = errors.New("core: phase violation")
	// ErrCircuitOpen indicates the tool circuit is open for this channel.
	ErrCircuitOpen = errors.New("core: circuit open")
	// ErrCorrectionExhausted indicates validation failures exceeded maxRetries.
	ErrCorrectionExhausted = errors.New("core: correction exhausted")
	// ErrToolFailure indicates an external tool execution failed.
	ErrToolFailure = errors.New("core: tool failure")
	// ErrLLMFailure indicates a provider call failed or produced unparseable output.
	ErrLLMFailure = errors.New("core: llm failure")
	// ErrCancelled indicates cooperative cancellation.
	ErrCancelled = errors.New("core: cancelled")
	// ErrBackendUnavailable indicates the memory/search backend is down.
	ErrBackendUnavailable = errors.New("core: backend unavailable")
	// ErrFatal indicates an invariant violation that must halt the loop.
	ErrFatal = errors.New("core: fatal")

	// ErrNotFound is a generic not-found sentinel for lookups across stores.
	ErrNotFound = errors.New("core: not found")
	// ErrAlreadyExists indicates a conflicting registration (e.g. tool name reuse
	// with an incompatible schema).
	ErrAlreadyExists = errors.New("core: already exists")
)
