package dispatch

import (
	"errors"
	"time"

	"github.com/smallbiznis/cardreport/internal/report/domain"
)

type Outcome string

const (
	OutcomeSent              Outcome = "sent"
	OutcomeAlreadyDispatched Outcome = "already_dispatched"
	OutcomeNoActivity        Outcome = "no_activity"
	OutcomeNoChannel         Outcome = "no_channel"
	OutcomeNotDelivered      Outcome = "not_delivered"
	OutcomeFailed            Outcome = "failed"
)

// StepResult is the outcome of one granularity within a run.
type StepResult struct {
	Step    domain.Granularity `json:"step"`
	Path    string             `json:"path"`
	Label   string             `json:"label"`
	Outcome Outcome            `json:"outcome"`
	Err     error              `json:"-"`
}

// Result collects every step of one run. A failed step never stops the others.
type Result struct {
	RunID   string       `json:"run_id"`
	Now     time.Time    `json:"now"`
	Target  time.Time    `json:"target"`
	Skipped bool         `json:"skipped"`
	Steps   []StepResult `json:"steps"`
}

// Err joins the errors of all failed steps.
func (r Result) Err() error {
	var err error
	for _, step := range r.Steps {
		if step.Err != nil {
			err = errors.Join(err, step.Err)
		}
	}
	return err
}

// Step returns the result for granularity g.
func (r Result) Step(g domain.Granularity) (StepResult, bool) {
	for _, step := range r.Steps {
		if step.Step == g {
			return step, true
		}
	}
	return StepResult{}, false
}
