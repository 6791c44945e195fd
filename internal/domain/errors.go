package domain

import "fmt"

// InvalidTransactionError reports a malformed or missing required field.
// Transactions carrying one are rejected before scoring.
type InvalidTransactionError struct {
	Field  string
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction: field %q %s", e.Field, e.Reason)
}

// MissingProfileError means no corridor profile exists and no known corridor
// is similar enough to inherit from. Scoring never proceeds with an
// arbitrary default profile.
type MissingProfileError struct {
	Corridor string
}

func (e *MissingProfileError) Error() string {
	return fmt.Sprintf("no profile for corridor %q and no sufficiently similar corridor", e.Corridor)
}

// ExternalTimeoutError marks a dependency lookup that exceeded its budget.
// The affected feature falls back to its configured default; the scoring
// call still completes, flagged as degraded.
type ExternalTimeoutError struct {
	Source string
	Err    error
}

func (e *ExternalTimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s lookup timed out: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s lookup timed out", e.Source)
}

func (e *ExternalTimeoutError) Unwrap() error { return e.Err }

// ConfigurationInvariantError reports configuration that must never be
// activated: multiplier sets with non-positive values, base weights that do
// not sum to one, inconsistent profile statistics. Fatal at load time, never
// surfaced mid-request.
type ConfigurationInvariantError struct {
	Subject string
	Reason  string
}

func (e *ConfigurationInvariantError) Error() string {
	return fmt.Sprintf("configuration invariant violated (%s): %s", e.Subject, e.Reason)
}
