package core

import "fmt"

// ErrInvalidArgument indicates a caller passed malformed input, such as
// mismatched batch array lengths or out-of-range indices.
type ErrInvalidArgument struct {
	Field   string
	Message string
}

func (e *ErrInvalidArgument) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid argument for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid argument: %s", e.Message)
}

func NewInvalidArgumentError(field, message string) error {
	return &ErrInvalidArgument{Field: field, Message: message}
}

// ErrUnsupportedOp indicates an operation that a given allocator or pool
// variant does not implement. Hitting it is a contract mismatch in the
// caller, not a runtime condition to retry.
type ErrUnsupportedOp struct {
	Variant   string
	Operation string
}

func (e *ErrUnsupportedOp) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Variant, e.Operation)
}

func NewUnsupportedOpError(variant, operation string) error {
	return &ErrUnsupportedOp{Variant: variant, Operation: operation}
}
