// Package provider abstracts external verification services. The
// orchestrator begins a challenge through a narrow interface and the
// provider reports success or failure asynchronously against a handle.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/bankshield/stepup/internal/challenge"
	"github.com/bankshield/stepup/internal/circuitbreaker"
	"github.com/bankshield/stepup/internal/metrics"
)

var (
	// ErrNoProvider is returned when no verifier is registered for a step kind.
	ErrNoProvider = errors.New("provider: no verifier registered for kind")
	// ErrUnavailable is returned when the circuit for a kind is open.
	ErrUnavailable = errors.New("provider: verifier unavailable")
)

// Verifier starts an asynchronous verification challenge. The returned
// handle identifies the in-flight challenge; the provider later reports
// the outcome for that handle through the caller's result sink.
type Verifier interface {
	Begin(ctx context.Context, kind challenge.StepKind, sessionID string) (handle string, err error)
}

// Registry routes step kinds to their registered verifier, guarded by a
// per-kind circuit breaker so a failing provider cannot stall every
// session needing that step.
type Registry struct {
	verifiers map[challenge.StepKind]Verifier
	breaker   *circuitbreaker.Breaker
}

// NewRegistry creates an empty registry. A nil breaker disables circuit
// breaking.
func NewRegistry(breaker *circuitbreaker.Breaker) *Registry {
	return &Registry{
		verifiers: make(map[challenge.StepKind]Verifier),
		breaker:   breaker,
	}
}

// Register binds a verifier to a step kind, replacing any previous binding.
func (r *Registry) Register(kind challenge.StepKind, v Verifier) {
	r.verifiers[kind] = v
}

// Begin dispatches a challenge to the verifier for kind. Registration
// happens at startup; Begin is safe for concurrent use afterwards.
func (r *Registry) Begin(ctx context.Context, kind challenge.StepKind, sessionID string) (string, error) {
	v, ok := r.verifiers[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoProvider, kind)
	}

	key := string(kind)
	if r.breaker != nil && !r.breaker.Allow(key) {
		metrics.ProviderCallsTotal.WithLabelValues(key, "rejected").Inc()
		return "", fmt.Errorf("%w: %s", ErrUnavailable, kind)
	}

	handle, err := v.Begin(ctx, kind, sessionID)
	if err != nil {
		if r.breaker != nil {
			r.breaker.RecordFailure(key)
		}
		metrics.ProviderCallsTotal.WithLabelValues(key, "error").Inc()
		return "", err
	}
	if r.breaker != nil {
		r.breaker.RecordSuccess(key)
	}
	metrics.ProviderCallsTotal.WithLabelValues(key, "dispatched").Inc()
	return handle, nil
}
