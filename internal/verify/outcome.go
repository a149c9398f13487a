package verify

import (
	"errors"
	"fmt"
	"time"
)

// Outcome classifies how a check ended.
type Outcome string

const (
	OutcomePassed           Outcome = "passed"
	OutcomeElementTimeout   Outcome = "element_timeout"
	OutcomeWaitFailed       Outcome = "wait_failed"
	OutcomeNavigationFailed Outcome = "navigation_failed"
	OutcomeLaunchFailed     Outcome = "launch_failed"
	OutcomeCaptureFailed    Outcome = "capture_failed"
	// OutcomeCanceled means the caller's context ended the check early.
	OutcomeCanceled Outcome = "canceled"
)

// Outcomes lists every outcome, in the order they are reported.
var Outcomes = []Outcome{
	OutcomePassed,
	OutcomeElementTimeout,
	OutcomeWaitFailed,
	OutcomeNavigationFailed,
	OutcomeLaunchFailed,
	OutcomeCaptureFailed,
	OutcomeCanceled,
}

// Graceful reports whether the outcome ended without an error: the check
// either passed or recorded a timeout screenshot.
func (o Outcome) Graceful() bool {
	return o == OutcomePassed || o == OutcomeElementTimeout
}

// Step names a point in the check.
type Step string

const (
	StepLaunch     Step = "launch"
	StepNewPage    Step = "new_page"
	StepNavigate   Step = "navigate"
	StepWait       Step = "wait"
	StepReadText   Step = "read_text"
	StepScreenshot Step = "screenshot"
)

// StepError is returned for every non-graceful outcome.
type StepError struct {
	Step    Step
	Outcome Outcome
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Step, e.Outcome, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// OutcomeOf extracts the outcome carried by err, or "" when err is not a
// StepError.
func OutcomeOf(err error) Outcome {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Outcome
	}
	return ""
}

// Report is what a check observed.
type Report struct {
	Outcome       Outcome   `json:"outcome"`
	Balance       string    `json:"balance,omitempty"`
	WidgetVisible bool      `json:"widget_visible"`
	Screenshot    string    `json:"screenshot,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Duration is the wall time of the check.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
