package domain

import "fmt"

// NotImplementedError means the selected engine never implements the
// requested capability. Never retried.
type NotImplementedError struct {
	Reason string
}

func (e *NotImplementedError) Error() string {
	if e.Reason == "" {
		return "not implemented by this engine"
	}
	return e.Reason
}

// NotImplemented builds a NotImplementedError with a formatted reason.
func NotImplemented(format string, args ...any) error {
	return &NotImplementedError{Reason: fmt.Sprintf(format, args...)}
}

// TierRestrictedError means the capability exists only in a higher product
// tier. Reported distinctly from NotImplementedError so callers can tell
// "never available" from "available if upgraded".
type TierRestrictedError struct {
	Capability string
}

func (e *TierRestrictedError) Error() string {
	if e.Capability == "" {
		return "requires upgraded tier"
	}
	return fmt.Sprintf("%s requires upgraded tier", e.Capability)
}

// SessionNotUsableError means a command was invoked while the session is
// FAILED or STOPPED. The underlying engine call is never attempted.
type SessionNotUsableError struct {
	Session string
	Status  string
}

func (e *SessionNotUsableError) Error() string {
	return fmt.Sprintf("session %q is not usable (status %s), restart it", e.Session, e.Status)
}

// EngineOperationError wraps a runtime fault from an engine call, keeping
// the engine-native detail attached.
type EngineOperationError struct {
	Engine string
	Op     string
	Err    error
}

func (e *EngineOperationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Engine, e.Op, e.Err)
}

func (e *EngineOperationError) Unwrap() error { return e.Err }
