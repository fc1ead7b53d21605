package rag

import (
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// ErrEmptyAnswer is returned for blank submissions. The attempt is not
// consumed; the caller may resubmit.
var ErrEmptyAnswer = errors.New("rag: empty answer")

// Outcome is the resolution state of one RAG challenge.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Terminal reports whether the outcome is final.
func (o Outcome) Terminal() bool { return o != OutcomePending }

// Engine creates challenges against a shared read-only bank.
type Engine struct {
	bank        *Bank
	maxAttempts int
	deadline    time.Duration
}

// NewEngine creates a challenge engine. maxAttempts and deadline fall
// back to 3 tries and 30 seconds when non-positive.
func NewEngine(bank *Bank, maxAttempts int, deadline time.Duration) *Engine {
	if bank == nil {
		bank = DefaultBank()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return &Engine{bank: bank, maxAttempts: maxAttempts, deadline: deadline}
}

// Challenge is one session's active RAG step. The question index starts
// at a position derived from the session ID (stable across restarts,
// varied across sessions) and advances cyclically on each miss. The
// deadline spans the whole challenge, not per attempt.
type Challenge struct {
	mu           sync.Mutex
	bank         *Bank
	maxAttempts  int
	index        int
	attemptsUsed int
	deadline     time.Time
	outcome      Outcome
}

// Start opens a challenge for a session. The deadline clock starts now.
func (e *Engine) Start(sessionID string) *Challenge {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &Challenge{
		bank:        e.bank,
		maxAttempts: e.maxAttempts,
		index:       int(h.Sum32()) % e.bank.Size(),
		deadline:    time.Now().Add(e.deadline),
		outcome:     OutcomePending,
	}
}

// Question returns the currently posed question.
func (c *Challenge) Question() Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bank.Question(c.index)
}

// AttemptsUsed returns how many answers have been consumed.
func (c *Challenge) AttemptsUsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attemptsUsed
}

// MaxAttempts returns the attempt limit.
func (c *Challenge) MaxAttempts() int { return c.maxAttempts }

// Deadline returns when the challenge expires.
func (c *Challenge) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// Outcome returns the current resolution state.
func (c *Challenge) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Submit validates an answer. Blank answers return ErrEmptyAnswer
// without consuming an attempt. A submission after the deadline, or
// after the challenge has already resolved, is ignored and the settled
// outcome returned. On a miss the next question is posed (cyclic) until
// attempts run out.
func (c *Challenge) Submit(answer string) (Outcome, error) {
	if strings.TrimSpace(answer) == "" {
		return c.Outcome(), ErrEmptyAnswer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outcome.Terminal() {
		return c.outcome, nil
	}
	if time.Now().After(c.deadline) {
		c.outcome = OutcomeTimedOut
		return c.outcome, nil
	}

	if matches(answer, c.bank.Question(c.index).ExpectedAnswer) {
		c.outcome = OutcomeCorrect
		return c.outcome, nil
	}

	c.attemptsUsed++
	if c.attemptsUsed >= c.maxAttempts {
		c.outcome = OutcomeIncorrect
		return c.outcome, nil
	}

	c.index = (c.index + 1) % c.bank.Size()
	return OutcomePending, nil
}

// Expire marks the challenge timed out if it has not already resolved.
// Returns the settled outcome. Safe to race with Submit; whichever
// resolves first wins.
func (c *Challenge) Expire() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.outcome.Terminal() {
		c.outcome = OutcomeTimedOut
	}
	return c.outcome
}

// matches applies the lenient validator: case-insensitive,
// whitespace-normalized substring containment of the expected answer
// within the submission.
func matches(answer, expected string) bool {
	return strings.Contains(normalize(answer), normalize(expected))
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
