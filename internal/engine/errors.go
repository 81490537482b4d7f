package engine

import "fmt"

// ValidationError reports a missing or malformed field. Nothing is mutated
// when one is returned and the caller may re-present the prior input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// PreconditionError rejects an action whose case is not in a state to accept
// it. Redirect names the stage or step the caller should be sent back to.
type PreconditionError struct {
	Reason   string
	Redirect string
}

func (e PreconditionError) Error() string {
	return e.Reason
}

// ForbiddenError indicates the acting user lacks the role or assignment the
// action requires.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return e.Reason
}

// SagaError wraps a hard finalization failure. The whole attempt was rolled
// back; Step names the step that failed.
type SagaError struct {
	Step string
	Err  error
}

func (e SagaError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e SagaError) Unwrap() error {
	return e.Err
}
