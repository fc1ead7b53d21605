package provider

import (
	"context"
	"time"

	"github.com/bankshield/stepup/internal/challenge"
	"github.com/bankshield/stepup/internal/idgen"
)

// ResultSink receives asynchronous provider outcomes. Implemented by
// the session orchestrator.
type ResultSink interface {
	HandleProviderResult(sessionID, handle string, success bool)
}

// Simulated is a demo verifier that reports success after a fixed
// delay. It stands in for real biometric, video-KYC, and attestation
// services when the server runs in demo mode.
type Simulated struct {
	sink  ResultSink
	delay time.Duration
	// outcome decides the reported result per dispatch; defaults to
	// always-success when nil.
	outcome func(kind challenge.StepKind, sessionID string) bool
}

// NewSimulated creates a demo verifier reporting into sink after delay.
func NewSimulated(sink ResultSink, delay time.Duration) *Simulated {
	return &Simulated{sink: sink, delay: delay}
}

// WithOutcome overrides the reported result per dispatch.
func (s *Simulated) WithOutcome(fn func(kind challenge.StepKind, sessionID string) bool) *Simulated {
	s.outcome = fn
	return s
}

// Begin schedules an asynchronous result report and returns immediately.
func (s *Simulated) Begin(ctx context.Context, kind challenge.StepKind, sessionID string) (string, error) {
	handle := idgen.WithPrefix("hdl_")
	success := true
	if s.outcome != nil {
		success = s.outcome(kind, sessionID)
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}
		s.sink.HandleProviderResult(sessionID, handle, success)
	}()

	return handle, nil
}
