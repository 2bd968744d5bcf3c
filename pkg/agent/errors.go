package agent

import "fmt"

// RecursionLimitError means one user turn exceeded its state-transition
// ceiling. It is fatal for the turn only; the conversation stays usable.
type RecursionLimitError struct {
	Limit int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("recursion limit of %d reached for this turn", e.Limit)
}

// LLMError wraps a failed primary-model request.
type LLMError struct {
	Err error
}

func (e *LLMError) Error() string { return fmt.Sprintf("llm request failed: %v", e.Err) }

func (e *LLMError) Unwrap() error { return e.Err }

// UserFacingError renders an internal failure as the channel-facing error
// notice.
func UserFacingError(err error) string {
	return fmt.Sprintf("An error occurred: %v", err)
}
