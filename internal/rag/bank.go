// Package rag implements the knowledge-based challenge step: it issues
// questions drawn from the account holder's transaction history and
// validates answers under attempt and time limits.
package rag

import (
	"encoding/json"
	"fmt"
	"os"
)

// Question is one knowledge probe. ExpectedAnswer is matched leniently
// against submissions (case-insensitive substring), so it should be a
// short distinctive phrase, not a full sentence.
type Question struct {
	Prompt         string `json:"prompt"`
	ExpectedAnswer string `json:"expectedAnswer"`
	Hint           string `json:"hint"`
}

// Bank is a read-only question pool shared by all sessions.
type Bank struct {
	questions []Question
}

// NewBank freezes a question slice into a bank.
func NewBank(questions []Question) (*Bank, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("rag: question bank is empty")
	}
	for i, q := range questions {
		if q.Prompt == "" || q.ExpectedAnswer == "" {
			return nil, fmt.Errorf("rag: question %d missing prompt or expected answer", i)
		}
	}
	cp := make([]Question, len(questions))
	copy(cp, questions)
	return &Bank{questions: cp}, nil
}

// LoadBank reads a JSON array of questions from path.
func LoadBank(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rag: read question bank: %w", err)
	}
	var questions []Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("rag: parse question bank: %w", err)
	}
	return NewBank(questions)
}

// Size returns the number of questions in the bank.
func (b *Bank) Size() int { return len(b.questions) }

// Question returns the question at index (caller guarantees bounds via
// modular arithmetic in the challenge).
func (b *Bank) Question(index int) Question {
	return b.questions[index]
}

// DefaultBank returns the built-in demo question pool used when no bank
// file is configured.
func DefaultBank() *Bank {
	b, err := NewBank([]Question{
		{
			Prompt:         "What is the name of the contact you last sent ₹5,000 to via UPI?",
			ExpectedAnswer: "Rajesh Kumar",
			Hint:           "Think about your recent UPI transactions",
		},
		{
			Prompt:         "Which restaurant did you pay ₹2,500 to last Tuesday?",
			ExpectedAnswer: "Spice Garden",
			Hint:           "Your recent dining transaction",
		},
		{
			Prompt:         "What was the amount of your last electricity bill payment?",
			ExpectedAnswer: "₹3,200",
			Hint:           "Check your recent utility payments",
		},
	})
	if err != nil {
		panic("rag: default bank invalid: " + err.Error())
	}
	return b
}
