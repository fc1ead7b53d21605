package session

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bankshield/stepup/internal/challenge"
	"github.com/bankshield/stepup/internal/rag"
	"github.com/bankshield/stepup/internal/risk"
	"github.com/bankshield/stepup/internal/signal"
	"github.com/bankshield/stepup/internal/validation"
)

// Handler provides HTTP endpoints for session operations.
type Handler struct {
	orch *Orchestrator
	risk risk.Store
}

// NewHandler creates a session handler. riskStore may be nil to disable
// the assessment history endpoint.
func NewHandler(orch *Orchestrator, riskStore risk.Store) *Handler {
	return &Handler{orch: orch, risk: riskStore}
}

// RegisterRoutes sets up public session routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/sessions/:id", h.GetSession)
	r.GET("/sessions/:id/assessments", h.ListAssessments)
	r.GET("/stats", h.GetStats)
}

// RegisterProtectedRoutes sets up auth-required session routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/sessions", h.StartSession)
	r.POST("/sessions/:id/input", h.SubmitInput)
	r.DELETE("/sessions/:id", h.AbandonSession)
	r.POST("/risk/preview", h.PreviewRisk)
}

// StartRequest is the POST /v1/sessions payload.
type StartRequest struct {
	Channel string          `json:"channel"`
	Signals []signal.Signal `json:"signals"`
	Demo    bool            `json:"demo,omitempty"`
}

// InputRequest is the POST /v1/sessions/:id/input payload. Answer is
// consumed by RAG steps; other step kinds resolve via provider callback.
type InputRequest struct {
	Answer string `json:"answer"`
}

// StartSession handles POST /v1/sessions
func (h *Handler) StartSession(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("channel", req.Channel),
		validation.MaxLength("channel", req.Channel, 64),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if req.Demo && len(req.Signals) == 0 {
		req.Signals = signal.DefaultSignals()
	}

	sess, err := h.orch.StartSession(c.Request.Context(), req.Channel, req.Signals)
	if err != nil {
		if errors.Is(err, signal.ErrInvalidSignal) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_signal",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "session_failed",
			"message": "Failed to start session",
		})
		return
	}

	resp := gin.H{
		"sessionId": sess.ID,
		"tier":      int(sess.Assessment.Tier),
		"tierLabel": sess.Assessment.TierLabel,
		"score":     sess.Assessment.Score,
		"factors":   sess.Assessment.Factors,
		"decision":  sess.Decision,
		"plan":      sess.Plan.Steps,
	}
	if ch := h.orch.ActiveRAG(sess.ID); ch != nil {
		q := ch.Question()
		resp["question"] = q.Prompt
		resp["hint"] = q.Hint
		resp["deadline"] = ch.Deadline()
	}
	c.JSON(http.StatusCreated, resp)
}

// GetSession handles GET /v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.orch.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Session not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// SubmitInput handles POST /v1/sessions/:id/input
func (h *Handler) SubmitInput(c *gin.Context) {
	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	res, err := h.orch.SubmitAnswer(c.Request.Context(), c.Param("id"), req.Answer)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownSession):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Session not found",
			})
		case errors.Is(err, ErrTerminalState):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "session_decided",
				"message": "Session has already reached a final decision",
			})
		case errors.Is(err, ErrNoInputExpected):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "no_input_expected",
				"message": "Active step does not accept caller input",
			})
		case errors.Is(err, rag.ErrEmptyAnswer):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "empty_answer",
				"message": "Answer must not be blank",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to process input",
			})
		}
		return
	}

	resp := gin.H{
		"stepOutcome":  res.Outcome,
		"decision":     res.Session.Decision,
		"attemptsUsed": res.AttemptsUsed,
		"maxAttempts":  res.MaxAttempts,
	}
	if res.Question != nil {
		resp["question"] = res.Question.Prompt
		resp["hint"] = res.Question.Hint
	}
	c.JSON(http.StatusOK, resp)
}

// AbandonSession handles DELETE /v1/sessions/:id
func (h *Handler) AbandonSession(c *gin.Context) {
	sess, err := h.orch.Abandon(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownSession):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Session not found",
			})
		case errors.Is(err, ErrTerminalState):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "session_decided",
				"message": "Session has already reached a final decision",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to abandon session",
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// PreviewRisk handles POST /v1/risk/preview. It scores a signal set
// without creating a session or recording an audit entry, so callers
// can answer what-if questions against the live scoring rules.
func (h *Handler) PreviewRisk(c *gin.Context) {
	var req struct {
		Signals []signal.Signal `json:"signals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	set, err := signal.NewSet(req.Signals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signal",
			"message": err.Error(),
		})
		return
	}

	a := risk.Preview(set)
	plan := challenge.BuildPlan(a.Tier)

	steps := make([]string, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		steps = append(steps, string(s.Kind))
	}

	c.JSON(http.StatusOK, gin.H{
		"trust":     a.Trust,
		"score":     a.Score,
		"tier":      int(a.Tier),
		"tierLabel": a.TierLabel,
		"factors":   a.Factors,
		"plan":      steps,
	})
}

// ListAssessments handles GET /v1/sessions/:id/assessments
func (h *Handler) ListAssessments(c *gin.Context) {
	if h.risk == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Assessment history not enabled",
		})
		return
	}
	assessments, err := h.risk.ListBySession(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": assessments})
}

// GetStats handles GET /v1/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.orch.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to aggregate stats",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
