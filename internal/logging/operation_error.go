package logging

import "fmt"

// OperationError annotates an error with the operation and flow it came from.
type OperationError struct {
	Operation string
	FlowID    string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.FlowID != "" {
		return fmt.Sprintf("%s (flow_id=%s): %v", e.Operation, e.FlowID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with operation metadata. A nil err stays nil.
func NewOperationError(operation, flowID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, FlowID: flowID, Err: err}
}
