package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/bankshield/stepup/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bankshield",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bankshield",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit session lifecycle events.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(channel string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.DispatchToChannel(ctx, channel, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "channel", channel, "error", err)
	}
}

// EmitSessionStarted emits a session.started event.
func (e *Emitter) EmitSessionStarted(channel, sessionID string, tier int, score float64, plan []string) {
	e.emit(channel, EventSessionStarted, map[string]interface{}{
		"sessionId": sessionID,
		"channel":   channel,
		"tier":      tier,
		"riskScore": score,
		"plan":      plan,
	})
}

// EmitChallengeIssued emits a challenge.issued event.
func (e *Emitter) EmitChallengeIssued(channel, sessionID, kind string) {
	e.emit(channel, EventChallengeIssued, map[string]interface{}{
		"sessionId": sessionID,
		"channel":   channel,
		"challenge": kind,
	})
}

// EmitSessionApproved emits a session.approved event.
func (e *Emitter) EmitSessionApproved(channel, sessionID string, tier int) {
	e.emit(channel, EventSessionApproved, map[string]interface{}{
		"sessionId": sessionID,
		"channel":   channel,
		"tier":      tier,
	})
}

// EmitSessionDenied emits a session.denied event.
func (e *Emitter) EmitSessionDenied(channel, sessionID string, tier int, reason string) {
	e.emit(channel, EventSessionDenied, map[string]interface{}{
		"sessionId": sessionID,
		"channel":   channel,
		"tier":      tier,
		"reason":    reason,
	})
}

// EmitSessionBlocked emits a session.blocked event.
func (e *Emitter) EmitSessionBlocked(channel, sessionID string, tier int, factors []string) {
	e.emit(channel, EventSessionBlocked, map[string]interface{}{
		"sessionId": sessionID,
		"channel":   channel,
		"tier":      tier,
		"factors":   factors,
	})
}
