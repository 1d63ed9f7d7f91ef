package errors

import "go.uber.org/multierr"

// CloseError aggregates the failures of one or more sub-components that
// failed to close cleanly, so a caller can inspect each cause individually
// instead of only seeing the first failure. Built on multierr rather than a
// hand-rolled slice-of-errors type, since multierr is already pulled in
// transitively by zap and its Errors()/flattening semantics are exactly
// what CloseFailure needs.
type CloseError struct {
	*baseError
	components map[string]error
}

// NewCloseError creates an empty CloseError ready to accumulate per-component failures.
func NewCloseError() *CloseError {
	return &CloseError{
		baseError:  NewBaseError(nil, ErrorCodeCloseFailure, "one or more components failed to close"),
		components: make(map[string]error),
	}
}

// Add records that the named component failed to close with err. A nil err is ignored.
func (ce *CloseError) Add(component string, err error) *CloseError {
	if err == nil {
		return ce
	}
	ce.components[component] = err
	ce.baseError.cause = multierr.Append(ce.baseError.cause, err)
	return ce
}

// HasErrors reports whether any component failed to close.
func (ce *CloseError) HasErrors() bool {
	return len(ce.components) > 0
}

// Components returns the per-component close errors, keyed by component name.
func (ce *CloseError) Components() map[string]error {
	return ce.components
}

// OrNil returns ce as an error if any component failed, or nil otherwise,
// so callers can write `return closeErr.OrNil()` unconditionally.
func (ce *CloseError) OrNil() error {
	if !ce.HasErrors() {
		return nil
	}
	return ce
}
