package runner

import (
	"homecheck/internal/config"
	"homecheck/internal/verify"
)

// ExitCode is the process status for a finished check: 0 for a pass and,
// unless FailOnTimeout is set, for an element timeout; 1 for anything else.
func ExitCode(cfg config.Config, outcome verify.Outcome, err error) int {
	switch {
	case err != nil:
		return 1
	case outcome == verify.OutcomePassed:
		return 0
	case outcome == verify.OutcomeElementTimeout && !cfg.FailOnTimeout:
		return 0
	default:
		return 1
	}
}
