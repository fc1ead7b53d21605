// Package signal defines contextual trust signals and the per-session
// signal set consumed by the risk scorer.
package signal

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSignal is returned when a submitted signal carries an
// out-of-range confidence or a negative weight.
var ErrInvalidSignal = errors.New("signal: invalid signal")

// Status classifies how a signal reads at collection time.
type Status string

const (
	StatusSafe    Status = "safe"
	StatusWarning Status = "warning"
	StatusDanger  Status = "danger"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusSafe, StatusWarning, StatusDanger:
		return true
	}
	return false
}

// Signal is one measured trust indicator for a login session.
// Confidence is a trust percentage in [0,100]; higher means the
// dimension looks more like the genuine account holder.
type Signal struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Confidence  float64   `json:"confidence"`
	Status      Status    `json:"status"`
	Weight      float64   `json:"weight"`
	Description string    `json:"description"`
	ObservedAt  time.Time `json:"observed_at,omitempty"`
}

func (s Signal) validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSignal)
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("%w: confidence %.2f out of range [0,100] for %q", ErrInvalidSignal, s.Confidence, s.ID)
	}
	if s.Weight < 0 {
		return fmt.Errorf("%w: negative weight %.2f for %q", ErrInvalidSignal, s.Weight, s.ID)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q for %q", ErrInvalidSignal, s.Status, s.ID)
	}
	return nil
}

// Set is a frozen snapshot of a session's signals. Once built it is
// never mutated; a new session builds a new Set.
type Set struct {
	signals []Signal
}

// NewSet validates and freezes a slice of signals. The input slice is
// copied so later caller mutation cannot leak into the set. Order is
// preserved as submitted.
func NewSet(signals []Signal) (*Set, error) {
	for _, s := range signals {
		if err := s.validate(); err != nil {
			return nil, err
		}
	}
	cp := make([]Signal, len(signals))
	copy(cp, signals)
	return &Set{signals: cp}, nil
}

// Signals returns a copy of the frozen signals in submission order.
func (s *Set) Signals() []Signal {
	cp := make([]Signal, len(s.signals))
	copy(cp, s.signals)
	return cp
}

// Len returns the number of signals in the set.
func (s *Set) Len() int { return len(s.signals) }

// TotalWeight sums the weights across the set.
func (s *Set) TotalWeight() float64 {
	var total float64
	for _, sig := range s.signals {
		total += sig.Weight
	}
	return total
}

// DefaultSignals returns the demo signal set used when the server runs
// in demo mode with no upstream telemetry wired in.
func DefaultSignals() []Signal {
	now := time.Now().UTC()
	return []Signal{
		{ID: "device", Name: "Device Trust", Confidence: 92, Status: StatusSafe, Weight: 25, Description: "Known device, no root detected", ObservedAt: now},
		{ID: "network", Name: "Network Context", Confidence: 78, Status: StatusWarning, Weight: 20, Description: "New WiFi network detected", ObservedAt: now},
		{ID: "location", Name: "Geolocation", Confidence: 85, Status: StatusSafe, Weight: 15, Description: "Within normal range (12km)", ObservedAt: now},
		{ID: "behavior", Name: "Behavioral Pattern", Confidence: 94, Status: StatusSafe, Weight: 30, Description: "Typing pattern matches", ObservedAt: now},
		{ID: "sim", Name: "SIM Status", Confidence: 45, Status: StatusDanger, Weight: 10, Description: "SIM swapped 2 days ago", ObservedAt: now},
	}
}
