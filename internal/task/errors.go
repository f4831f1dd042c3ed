package task

import "fmt"

// ValidationError reports a rejected task. The task list is left unchanged
// when a mutation fails with it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
