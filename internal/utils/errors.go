package utils

import "fmt"

// AppError attaches the failing pipeline operation to an error so triage
// failures read as "engine.Triage: record incident: <cause>".
type AppError struct {
	Op  string // operation that failed, e.g. "patch.Generate"
	Msg string // short human-facing description
	Err error  // underlying cause, nil for leaf errors
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError wraps err with the operation and message that give it context.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
