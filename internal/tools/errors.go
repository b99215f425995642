package tools

import "fmt"

// DecodeError reports tool arguments that are not a JSON object.
type DecodeError struct {
	Tool string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tools: decode arguments for %q: %v", e.Tool, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ExecutionError reports a handler failure or timeout.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tools: execute %q: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
