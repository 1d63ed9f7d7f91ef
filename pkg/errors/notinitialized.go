package errors

// NotInitializedError is returned when an operation is attempted on a Store
// before Open has completed successfully.
type NotInitializedError struct {
	*baseError
	operation string
}

// NewNotInitializedError creates a NotInitializedError naming the attempted operation.
func NewNotInitializedError(operation string) *NotInitializedError {
	return &NotInitializedError{
		baseError: NewBaseError(nil, ErrorCodeNotInitialized, "store is not initialized"),
		operation: operation,
	}
}

// Operation returns the name of the operation that was attempted too early.
func (ne *NotInitializedError) Operation() string { return ne.operation }
