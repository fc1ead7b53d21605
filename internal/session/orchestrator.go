package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bankshield/stepup/internal/challenge"
	"github.com/bankshield/stepup/internal/idgen"
	"github.com/bankshield/stepup/internal/metrics"
	"github.com/bankshield/stepup/internal/provider"
	"github.com/bankshield/stepup/internal/rag"
	"github.com/bankshield/stepup/internal/risk"
	"github.com/bankshield/stepup/internal/signal"
	"github.com/bankshield/stepup/internal/traces"
)

// runtime holds the in-flight step machinery for one session: the RAG
// challenge or provider handle, the deadline timer, and an epoch counter
// that fences off late timer fires and stale provider callbacks.
type runtime struct {
	mu     sync.Mutex
	epoch  uint64
	rag    *rag.Challenge
	handle string
	timer  *time.Timer
	cancel context.CancelFunc
}

// SubmitResult is returned from answer submissions while the session is
// still pending so the caller can render the next question.
type SubmitResult struct {
	Session      *Session     `json:"session"`
	Outcome      rag.Outcome  `json:"outcome"`
	Question     *rag.Question `json:"question,omitempty"`
	AttemptsUsed int          `json:"attemptsUsed"`
	MaxAttempts  int          `json:"maxAttempts"`
}

// Orchestrator drives sessions through their challenge plans. Exactly
// one step is active per session at a time; cross-session work is fully
// concurrent.
type Orchestrator struct {
	store        Store
	riskEngine   *risk.Engine
	ragEngine    *rag.Engine
	providers    *provider.Registry
	logger       *slog.Logger
	stepDeadline time.Duration
	runtimes     sync.Map // sessionID → *runtime
	onDecision   func(*Session)
	onStart      func(*Session)
	onStep       func(*Session, challenge.Step)
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(store Store, riskEngine *risk.Engine, ragEngine *rag.Engine, providers *provider.Registry) *Orchestrator {
	return &Orchestrator{
		store:        store,
		riskEngine:   riskEngine,
		ragEngine:    ragEngine,
		providers:    providers,
		logger:       slog.Default(),
		stepDeadline: 30 * time.Second,
	}
}

// WithLogger sets a structured logger.
func (o *Orchestrator) WithLogger(l *slog.Logger) *Orchestrator {
	o.logger = l
	return o
}

// WithStepDeadline overrides the per-step deadline for provider-backed steps.
func (o *Orchestrator) WithStepDeadline(d time.Duration) *Orchestrator {
	if d > 0 {
		o.stepDeadline = d
	}
	return o
}

// OnDecision registers a hook fired once per session when it reaches a
// terminal decision. Invoked asynchronously with a snapshot.
func (o *Orchestrator) OnDecision(fn func(*Session)) {
	o.onDecision = fn
}

// OnStart registers a hook fired once per session after it has been
// scored and persisted. Invoked asynchronously with a snapshot.
func (o *Orchestrator) OnStart(fn func(*Session)) {
	o.onStart = fn
}

// OnStep registers a hook fired each time a challenge step is armed.
// Invoked asynchronously with a snapshot.
func (o *Orchestrator) OnStep(fn func(*Session, challenge.Step)) {
	o.onStep = fn
}

// StepDeadline returns the configured per-step deadline.
func (o *Orchestrator) StepDeadline() time.Duration { return o.stepDeadline }

func (o *Orchestrator) sessionRuntime(id string) *runtime {
	v, _ := o.runtimes.LoadOrStore(id, &runtime{})
	return v.(*runtime)
}

// StartSession validates signals, scores the session, builds its plan,
// and begins executing it. Tier-4 sessions block immediately without
// dispatching any provider.
func (o *Orchestrator) StartSession(ctx context.Context, channel string, signals []signal.Signal) (*Session, error) {
	ctx, span := traces.StartSpan(ctx, "session.Start", traces.Channel(channel))
	defer span.End()

	set, err := signal.NewSet(signals)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		ID:        idgen.WithPrefix("ses_"),
		Channel:   channel,
		State:     StateScoring,
		Decision:  DecisionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.Assessment = o.riskEngine.Evaluate(ctx, s.ID, set)
	s.Plan = challenge.BuildPlan(s.Assessment.Tier)
	span.SetAttributes(
		traces.SessionID(s.ID),
		traces.RiskTier(int(s.Assessment.Tier)),
		traces.RiskScore(s.Assessment.Score),
	)
	metrics.RiskTierTotal.WithLabelValues(strconv.Itoa(int(s.Assessment.Tier))).Inc()

	o.logger.Info("session scored",
		"session_id", s.ID,
		"channel", channel,
		"score", s.Assessment.Score,
		"tier", int(s.Assessment.Tier),
	)

	if s.Plan.Blocking() {
		// Critical tier short-circuits: no step ever executes.
		s.State = StateBlocked
		s.Decision = DecisionBlocked
		if err := o.store.Create(ctx, s); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		o.recordStart(s)
		o.recordDecision(s)
		return o.snapshot(ctx, s.ID)
	}

	s.State = StateExecuting
	s.CurrentStep = 0
	if err := o.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	metrics.ActiveSessions.Inc()
	o.recordStart(s)

	rt := o.sessionRuntime(s.ID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	o.beginStepLocked(ctx, s, rt)
	return o.snapshot(ctx, s.ID)
}

// Get returns a read-only snapshot. Never mutates session state.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Session, error) {
	return o.snapshot(ctx, id)
}

// ActiveRAG returns the live RAG challenge for a session, or nil when
// the active step is not RAG.
func (o *Orchestrator) ActiveRAG(id string) *rag.Challenge {
	v, ok := o.runtimes.Load(id)
	if !ok {
		return nil
	}
	rt := v.(*runtime)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.rag
}

// SubmitAnswer feeds a RAG answer to the session's active challenge.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, id, answer string) (*SubmitResult, error) {
	s, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, ErrUnknownSession
	}
	if s.Decision.Terminal() {
		return nil, ErrTerminalState
	}

	v, ok := o.runtimes.Load(id)
	if !ok {
		// Runtime lost (e.g. restart); the session can no longer progress.
		return nil, ErrUnknownSession
	}
	rt := v.(*runtime)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	s, err = o.store.Get(ctx, id)
	if err != nil {
		return nil, ErrUnknownSession
	}
	if s.Decision.Terminal() {
		return nil, ErrTerminalState
	}

	step, ok := s.ActiveStep()
	if !ok || step.Kind != challenge.KindRAG || rt.rag == nil {
		return nil, ErrNoInputExpected
	}

	ch := rt.rag
	outcome, err := ch.Submit(answer)
	if err != nil {
		return nil, err
	}

	res := &SubmitResult{
		Outcome:      outcome,
		AttemptsUsed: ch.AttemptsUsed(),
		MaxAttempts:  ch.MaxAttempts(),
	}

	switch outcome {
	case rag.OutcomeCorrect:
		metrics.RAGAttempts.Observe(float64(ch.AttemptsUsed() + 1))
		o.resolveStepLocked(ctx, s, rt, StepSuccess, "rag: correct")
	case rag.OutcomeIncorrect:
		metrics.RAGAttempts.Observe(float64(ch.AttemptsUsed()))
		o.resolveStepLocked(ctx, s, rt, StepFailure, "rag: attempts exhausted")
	case rag.OutcomeTimedOut:
		o.resolveStepLocked(ctx, s, rt, StepFailure, "rag: timed out")
	default:
		q := ch.Question()
		res.Question = &q
	}

	snap, err := o.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	res.Session = snap
	return res, nil
}

// HandleProviderResult accepts an asynchronous provider outcome. Results
// carrying a stale handle, or arriving after the session has resolved,
// are discarded.
func (o *Orchestrator) HandleProviderResult(sessionID, handle string, success bool) {
	v, ok := o.runtimes.Load(sessionID)
	if !ok {
		return
	}
	rt := v.(*runtime)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.handle == "" || rt.handle != handle {
		o.logger.Debug("discarding stale provider result", "session_id", sessionID, "handle", handle)
		return
	}

	ctx := context.Background()
	s, err := o.store.Get(ctx, sessionID)
	if err != nil || s.Decision.Terminal() {
		return
	}

	if success {
		o.resolveStepLocked(ctx, s, rt, StepSuccess, "provider: verified")
	} else {
		o.resolveStepLocked(ctx, s, rt, StepFailure, "provider: rejected")
	}
}

// Abandon cancels a pending session. The decision is recorded as Denied;
// any outstanding timer or provider call is canceled.
func (o *Orchestrator) Abandon(ctx context.Context, id string) (*Session, error) {
	s, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, ErrUnknownSession
	}
	if s.Decision.Terminal() {
		return nil, ErrTerminalState
	}

	v, ok := o.runtimes.Load(id)
	if !ok {
		return nil, ErrUnknownSession
	}
	rt := v.(*runtime)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	s, err = o.store.Get(ctx, id)
	if err != nil {
		return nil, ErrUnknownSession
	}
	if s.Decision.Terminal() {
		return nil, ErrTerminalState
	}

	o.clearStepLocked(rt)
	o.finalizeLocked(ctx, s, DecisionDenied, StateDenied)
	o.logger.Info("session abandoned", "session_id", id)
	return o.snapshot(ctx, id)
}

// Stats returns aggregate counts across all sessions.
func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	return o.store.Stats(ctx)
}

// beginStepLocked arms the step at s.CurrentStep. Caller holds rt.mu.
func (o *Orchestrator) beginStepLocked(ctx context.Context, s *Session, rt *runtime) {
	step := s.Plan.Steps[s.CurrentStep]
	rt.epoch++
	epoch := rt.epoch

	o.logger.Info("step started",
		"session_id", s.ID,
		"step_index", s.CurrentStep,
		"kind", string(step.Kind),
	)

	if o.onStep != nil {
		snap := cloneSession(s)
		go o.onStep(snap, step)
	}

	if step.Kind == challenge.KindRAG {
		rt.rag = o.ragEngine.Start(s.ID)
		rt.timer = time.AfterFunc(time.Until(rt.rag.Deadline()), func() {
			o.onDeadline(s.ID, epoch)
		})
		return
	}

	dispatchCtx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	handle, err := o.providers.Begin(dispatchCtx, step.Kind, s.ID)
	if err != nil {
		// Fail closed: an undispatchable required step denies the session.
		o.logger.Warn("provider dispatch failed",
			"session_id", s.ID, "kind", string(step.Kind), "error", err)
		o.resolveStepLocked(ctx, s, rt, StepFailure, "provider: dispatch failed")
		return
	}
	rt.handle = handle
	rt.timer = time.AfterFunc(o.stepDeadline, func() {
		o.onDeadline(s.ID, epoch)
	})
}

// onDeadline fires when an active step's deadline elapses. The epoch
// check discards fires for steps that already resolved.
func (o *Orchestrator) onDeadline(sessionID string, epoch uint64) {
	v, ok := o.runtimes.Load(sessionID)
	if !ok {
		return
	}
	rt := v.(*runtime)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.epoch != epoch {
		return
	}

	ctx := context.Background()
	s, err := o.store.Get(ctx, sessionID)
	if err != nil || s.Decision.Terminal() {
		return
	}

	if rt.rag != nil {
		rt.rag.Expire()
	}
	o.logger.Info("step timed out", "session_id", sessionID, "step_index", s.CurrentStep)
	o.resolveStepLocked(ctx, s, rt, StepFailure, "timeout")
}

// resolveStepLocked records the active step's outcome and advances the
// machine. Caller holds rt.mu.
func (o *Orchestrator) resolveStepLocked(ctx context.Context, s *Session, rt *runtime, outcome StepOutcome, detail string) {
	step := s.Plan.Steps[s.CurrentStep]
	o.clearStepLocked(rt)

	s.StepResults = append(s.StepResults, StepResult{
		Step:      step,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: time.Now(),
	})
	metrics.ChallengeStepsTotal.WithLabelValues(string(step.Kind), string(outcome)).Inc()

	if outcome == StepFailure {
		o.finalizeLocked(ctx, s, DecisionDenied, StateDenied)
		return
	}

	s.CurrentStep++
	if s.CurrentStep >= len(s.Plan.Steps) {
		o.finalizeLocked(ctx, s, DecisionApproved, StateApproved)
		return
	}

	s.UpdatedAt = time.Now()
	if err := o.store.Update(ctx, s); err != nil {
		o.logger.Error("failed to persist step advance", "session_id", s.ID, "error", err)
	}
	o.beginStepLocked(ctx, s, rt)
}

// clearStepLocked disarms the active step's timer, provider call, and
// challenge. Bumping the epoch fences off any in-flight deadline fire.
func (o *Orchestrator) clearStepLocked(rt *runtime) {
	rt.epoch++
	if rt.timer != nil {
		rt.timer.Stop()
		rt.timer = nil
	}
	if rt.cancel != nil {
		rt.cancel()
		rt.cancel = nil
	}
	rt.rag = nil
	rt.handle = ""
}

// finalizeLocked moves the session to a terminal state. Caller holds rt.mu.
func (o *Orchestrator) finalizeLocked(ctx context.Context, s *Session, decision Decision, state State) {
	s.Decision = decision
	s.State = state
	s.UpdatedAt = time.Now()
	if err := o.store.Update(ctx, s); err != nil {
		o.logger.Error("failed to persist decision", "session_id", s.ID, "error", err)
	}
	metrics.ActiveSessions.Dec()
	o.recordDecision(s)
}

func (o *Orchestrator) recordStart(s *Session) {
	if o.onStart != nil {
		snap := cloneSession(s)
		go o.onStart(snap)
	}
}

// recordDecision emits metrics, logs, and the decision hook.
func (o *Orchestrator) recordDecision(s *Session) {
	metrics.SessionsTotal.WithLabelValues(string(s.Decision)).Inc()
	metrics.SessionDuration.Observe(time.Since(s.CreatedAt).Seconds())

	o.logger.Info("session decided",
		"session_id", s.ID,
		"decision", string(s.Decision),
		"tier", int(s.Assessment.Tier),
		"steps_resolved", len(s.StepResults),
	)

	_, span := traces.StartSpan(context.Background(), "session.Decision",
		traces.SessionID(s.ID),
		traces.Decision(string(s.Decision)),
		attribute.Int("steps_resolved", len(s.StepResults)),
	)
	span.End()

	if o.onDecision != nil {
		snap := cloneSession(s)
		go o.onDecision(snap)
	}
}

// snapshot returns a defensive copy from the store.
func (o *Orchestrator) snapshot(ctx context.Context, id string) (*Session, error) {
	s, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, ErrUnknownSession
	}
	return s, nil
}

func cloneSession(s *Session) *Session {
	cp := *s
	cp.StepResults = append([]StepResult(nil), s.StepResults...)
	cp.Plan.Steps = append([]challenge.Step(nil), s.Plan.Steps...)
	if s.Assessment != nil {
		a := *s.Assessment
		a.Factors = append([]string(nil), s.Assessment.Factors...)
		cp.Assessment = &a
	}
	return &cp
}
