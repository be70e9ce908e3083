package core

// Outcome is the recorded result of one attempted step
type Outcome int

const (
	OutcomeSuccess Outcome = iota // Step completed
	OutcomeFailure                // Step failed; the run aborts after it
	OutcomeWarning                // Advisory probe missed; the run continues
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Marker returns the symbol printed in front of the step name.
func (o Outcome) Marker() string {
	switch o {
	case OutcomeSuccess:
		return "✅"
	case OutcomeFailure:
		return "❌"
	case OutcomeWarning:
		return "⚠️"
	default:
		return "?"
	}
}

// IsSuccess returns true if the outcome does not abort the run
func (o Outcome) IsSuccess() bool {
	return o == OutcomeSuccess || o == OutcomeWarning
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryAssertion                       // Element not found, text mismatch, validation failed
	ErrCategoryTimeout                         // Wait condition timed out
	ErrCategoryConnection                      // Server unreachable, session could not open
	ErrCategoryConfig                          // Invalid locator or plan
	ErrCategoryUnknown                         // Unclassified remote error, or not an ExecutionError
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
