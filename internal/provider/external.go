package provider

import (
	"context"
	"log/slog"

	"github.com/bankshield/stepup/internal/challenge"
	"github.com/bankshield/stepup/internal/idgen"
)

// External dispatches verification to an out-of-process provider. The
// dispatch only issues a handle; the provider reports its outcome back
// through the callback endpoint, which forwards it to the orchestrator.
type External struct {
	logger *slog.Logger
}

// NewExternal creates a callback-based verifier.
func NewExternal(logger *slog.Logger) *External {
	if logger == nil {
		logger = slog.Default()
	}
	return &External{logger: logger}
}

// Begin issues a dispatch handle. The step resolves when the provider
// posts the handle back, or when the step deadline expires.
func (e *External) Begin(ctx context.Context, kind challenge.StepKind, sessionID string) (string, error) {
	handle := idgen.WithPrefix("hdl_")
	e.logger.Info("step dispatched to external provider",
		"session_id", sessionID,
		"kind", string(kind),
		"handle", handle,
	)
	return handle, nil
}
