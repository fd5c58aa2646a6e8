package research

import "fmt"

// PlanningError aborts a run before any section is researched.
type PlanningError struct {
	Topic string
	Err   error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning %q: %v", e.Topic, e.Err)
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

// SectionIterationError reports a research iteration that produced nothing.
// The section continues with its remaining budget.
type SectionIterationError struct {
	SectionID string
	Iteration int
	Err       error
}

func (e *SectionIterationError) Error() string {
	return fmt.Sprintf("section %s iteration %d: %v", e.SectionID, e.Iteration, e.Err)
}

func (e *SectionIterationError) Unwrap() error {
	return e.Err
}
