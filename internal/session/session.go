// Package session implements the authentication session state machine.
//
// A session is created from a set of trust signals, scored and classified,
// assigned a challenge plan, and driven through that plan one step at a
// time. Each step resolves as success or failure via an in-process RAG
// challenge, an external provider callback, or a deadline timer; the first
// resolver to arrive wins and later ones are discarded. Every session ends
// in exactly one of Approved, Denied, or Blocked.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/bankshield/stepup/internal/challenge"
	"github.com/bankshield/stepup/internal/risk"
)

var (
	// ErrUnknownSession is returned for operations on a nonexistent or
	// expired session id.
	ErrUnknownSession = errors.New("session: unknown session")
	// ErrTerminalState is returned when input arrives for a session
	// that has already reached a final decision.
	ErrTerminalState = errors.New("session: session already decided")
	// ErrNoInputExpected is returned when input arrives for a step that
	// resolves through a provider callback, not caller input.
	ErrNoInputExpected = errors.New("session: active step does not accept caller input")
)

// State is the orchestrator's position in the session lifecycle.
type State string

const (
	StateCreated   State = "created"
	StateScoring   State = "scoring"
	StateExecuting State = "executing"
	StateApproved  State = "approved"
	StateDenied    State = "denied"
	StateBlocked   State = "blocked"
)

// Decision is the caller-visible verdict.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	DecisionBlocked  Decision = "blocked"
)

// Terminal reports whether the decision is final.
func (d Decision) Terminal() bool { return d != DecisionPending }

// StepOutcome is the resolution of one challenge step.
type StepOutcome string

const (
	StepSuccess StepOutcome = "success"
	StepFailure StepOutcome = "failure"
)

// StepResult records one resolved step.
type StepResult struct {
	Step      challenge.Step `json:"step"`
	Outcome   StepOutcome    `json:"outcome"`
	Detail    string         `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is the persisted snapshot of one authentication attempt.
// Mutated only by the orchestrator; callers see copies.
type Session struct {
	ID          string           `json:"id"`
	Channel     string           `json:"channel"`
	State       State            `json:"state"`
	Assessment  *risk.Assessment `json:"assessment"`
	Plan        challenge.Plan   `json:"plan"`
	CurrentStep int              `json:"currentStep"`
	StepResults []StepResult     `json:"stepResults"`
	Decision    Decision         `json:"decision"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// ActiveStep returns the step at CurrentStep, or false when execution
// has not started or has finished.
func (s *Session) ActiveStep() (challenge.Step, bool) {
	if s.State != StateExecuting || s.CurrentStep < 0 || s.CurrentStep >= len(s.Plan.Steps) {
		return challenge.Step{}, false
	}
	return s.Plan.Steps[s.CurrentStep], true
}

// Stats aggregates session counts for the operations endpoint.
type Stats struct {
	Total     int              `json:"total"`
	Pending   int              `json:"pending"`
	Decisions map[Decision]int `json:"decisions"`
	Tiers     map[risk.Tier]int `json:"tiers"`
}

// Store persists session snapshots.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// ListStale returns ids of sessions last updated before the cutoff.
	ListStale(ctx context.Context, before time.Time, limit int) ([]string, error)
	Stats(ctx context.Context) (*Stats, error)
}
