package scheduler

import "fmt"

// ValidationError rejects a malformed request at admission; it is never
// enqueued
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

// CacheMissError fails every request in a voice group whose embedding could
// not be resolved
type CacheMissError struct {
	VoiceID string
	Cause   error
}

func (e *CacheMissError) Error() string {
	return fmt.Sprintf("voice %q unavailable: %v", e.VoiceID, e.Cause)
}

func (e *CacheMissError) Unwrap() error {
	return e.Cause
}

// BackendError fails every request in a voice group whose synthesis call
// failed; the backend's error is preserved as the cause
type BackendError struct {
	VoiceID string
	Cause   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("synthesis failed for voice %q: %v", e.VoiceID, e.Cause)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// ResourceExhaustedError reports a memory ceiling still exceeded after
// splitting down to a singleton batch
type ResourceExhaustedError struct {
	MemoryBytes  uint64
	CeilingBytes uint64
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("memory ceiling exceeded: %d bytes in use, ceiling %d", e.MemoryBytes, e.CeilingBytes)
}
