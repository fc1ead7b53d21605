package rag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBank(t *testing.T) *Bank {
	t.Helper()
	b, err := NewBank([]Question{
		{Prompt: "Last UPI contact?", ExpectedAnswer: "Rajesh Kumar", Hint: "recent UPI"},
		{Prompt: "Restaurant paid last Tuesday?", ExpectedAnswer: "Spice Garden", Hint: "dining"},
		{Prompt: "Last electricity bill amount?", ExpectedAnswer: "3,200", Hint: "utilities"},
	})
	require.NoError(t, err)
	return b
}

func TestNewBank_RejectsEmptyAndMalformed(t *testing.T) {
	_, err := NewBank(nil)
	assert.Error(t, err)

	_, err = NewBank([]Question{{Prompt: "q", ExpectedAnswer: ""}})
	assert.Error(t, err)
}

func TestStart_DeterministicPerSession(t *testing.T) {
	e := NewEngine(testBank(t), 3, time.Minute)

	a := e.Start("ses_aaaa")
	b := e.Start("ses_aaaa")
	assert.Equal(t, a.Question(), b.Question(), "same session id must pose the same first question")
}

func TestSubmit_CorrectAnswer(t *testing.T) {
	e := NewEngine(testBank(t), 3, time.Minute)
	c := e.Start("ses_x")

	q := c.Question()
	out, err := c.Submit(q.ExpectedAnswer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrect, out)
	assert.Equal(t, 0, c.AttemptsUsed(), "a correct answer consumes no attempt")
}

func TestSubmit_LenientMatching(t *testing.T) {
	e := NewEngine(testBank(t), 3, time.Minute)

	tests := []struct {
		answer string
		want   Outcome
	}{
		{"rajesh kumar", OutcomeCorrect},
		{"I think it was Rajesh Kumar, from work", OutcomeCorrect},
		{"RAJESH   KUMAR", OutcomeCorrect},
		{"Rajesh", OutcomePending},
		{"Suresh Kumar", OutcomePending},
	}

	for _, tt := range tests {
		c := e.Start("ses_x")
		// Walk the challenge to the Rajesh Kumar question.
		for c.Question().ExpectedAnswer != "Rajesh Kumar" {
			c.mu.Lock()
			c.index = (c.index + 1) % c.bank.Size()
			c.mu.Unlock()
		}
		out, err := c.Submit(tt.answer)
		require.NoError(t, err)
		assert.Equal(t, tt.want, out, "answer %q", tt.answer)
	}
}

func TestSubmit_EmptyAnswerNotConsumed(t *testing.T) {
	e := NewEngine(testBank(t), 3, time.Minute)
	c := e.Start("ses_x")

	for _, blank := range []string{"", "   ", "\t\n"} {
		out, err := c.Submit(blank)
		assert.ErrorIs(t, err, ErrEmptyAnswer)
		assert.Equal(t, OutcomePending, out)
	}
	assert.Equal(t, 0, c.AttemptsUsed())
}

func TestSubmit_AdvancesCyclicallyOnMiss(t *testing.T) {
	e := NewEngine(testBank(t), 5, time.Minute)
	c := e.Start("ses_x")

	first := c.Question()
	seen := map[string]bool{first.Prompt: true}
	for i := 0; i < 2; i++ {
		out, err := c.Submit("definitely wrong")
		require.NoError(t, err)
		require.Equal(t, OutcomePending, out)
		seen[c.Question().Prompt] = true
	}
	assert.Len(t, seen, 3, "misses must walk the whole bank")

	// A fourth miss wraps around to the first question again.
	_, err := c.Submit("still wrong")
	require.NoError(t, err)
	assert.Equal(t, first, c.Question())
}

func TestSubmit_MaxAttemptsExhausted(t *testing.T) {
	e := NewEngine(testBank(t), 3, time.Minute)
	c := e.Start("ses_x")

	var out Outcome
	var err error
	for i := 0; i < 3; i++ {
		out, err = c.Submit("wrong answer")
		require.NoError(t, err)
	}
	assert.Equal(t, OutcomeIncorrect, out)
	assert.Equal(t, 3, c.AttemptsUsed())

	// Later submissions are ignored and consume nothing, even correct ones.
	out, err = c.Submit(c.Question().ExpectedAnswer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIncorrect, out)
	assert.Equal(t, 3, c.AttemptsUsed())
}

func TestSubmit_CorrectOnSecondAttempt(t *testing.T) {
	e := NewEngine(testBank(t), 3, time.Minute)
	c := e.Start("ses_x")

	out, err := c.Submit("wrong")
	require.NoError(t, err)
	require.Equal(t, OutcomePending, out)

	out, err = c.Submit(c.Question().ExpectedAnswer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrect, out)
	assert.Equal(t, 1, c.AttemptsUsed())
}

func TestSubmit_AfterDeadlineTimesOut(t *testing.T) {
	e := NewEngine(testBank(t), 3, 30*time.Millisecond)
	c := e.Start("ses_x")

	time.Sleep(50 * time.Millisecond)

	out, err := c.Submit(c.Question().ExpectedAnswer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, out)
	assert.Equal(t, 0, c.AttemptsUsed())
}

func TestExpire_PreemptsPending(t *testing.T) {
	e := NewEngine(testBank(t), 3, time.Minute)
	c := e.Start("ses_x")

	assert.Equal(t, OutcomeTimedOut, c.Expire())

	// Resolution is sticky: a correct answer after expiry changes nothing.
	out, err := c.Submit(c.Question().ExpectedAnswer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, out)
}

func TestExpire_DoesNotOverrideResolved(t *testing.T) {
	e := NewEngine(testBank(t), 3, time.Minute)
	c := e.Start("ses_x")

	out, err := c.Submit(c.Question().ExpectedAnswer)
	require.NoError(t, err)
	require.Equal(t, OutcomeCorrect, out)

	assert.Equal(t, OutcomeCorrect, c.Expire())
}

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(nil, 0, 0)
	c := e.Start("ses_x")
	assert.Equal(t, 3, c.MaxAttempts())
	assert.InDelta(t, 30, time.Until(c.Deadline()).Seconds(), 1)
	assert.NotEmpty(t, c.Question().Prompt)
}
