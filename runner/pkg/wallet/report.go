package wallet

import (
	"time"
)

type State string

const (
	// StateQueued marks a wallet selected for the run that has not started yet.
	StateQueued       State = "queued"
	StateInitializing State = "initializing"
	StateResolving    State = "resolving"
	StateExecuting    State = "executing"
	StateReporting    State = "reporting"
	StateClosed       State = "closed"
	StateAborted      State = "aborted"
)

// Report summarizes one wallet run.
type Report struct {
	Index   int
	Address string
	// State is StateClosed for runs that went through every pending step, and
	// StateAborted otherwise.
	State State
	// PlanSize is the number of pending steps found at the start of the run.
	PlanSize  int
	Completed []string
	Failed    []string
	// Fatal is set when the run stopped for a reason other than a task failure,
	// such as an unreachable ledger or a broken task configuration.
	Fatal      error
	SkipFailed bool
	StartedAt  time.Time
	Duration   time.Duration
}

func (r Report) Total() int { return len(r.Completed) + len(r.Failed) }

// SuccessRate is the completed share of attempted steps, in percent.
func (r Report) SuccessRate() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(len(r.Completed)) / float64(r.Total()) * 100
}

// Executed reports whether the run attempted any step.
func (r Report) Executed() bool { return r.Total() > 0 }
