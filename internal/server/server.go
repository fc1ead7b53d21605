// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/bankshield/stepup/internal/auth"
	"github.com/bankshield/stepup/internal/challenge"
	"github.com/bankshield/stepup/internal/circuitbreaker"
	"github.com/bankshield/stepup/internal/config"
	"github.com/bankshield/stepup/internal/health"
	"github.com/bankshield/stepup/internal/idgen"
	"github.com/bankshield/stepup/internal/logging"
	"github.com/bankshield/stepup/internal/metrics"
	"github.com/bankshield/stepup/internal/provider"
	"github.com/bankshield/stepup/internal/rag"
	"github.com/bankshield/stepup/internal/ratelimit"
	"github.com/bankshield/stepup/internal/realtime"
	"github.com/bankshield/stepup/internal/risk"
	"github.com/bankshield/stepup/internal/security"
	"github.com/bankshield/stepup/internal/session"
	"github.com/bankshield/stepup/internal/traces"
	"github.com/bankshield/stepup/internal/validation"
	"github.com/bankshield/stepup/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	authMgr      *auth.Manager
	sessionStore session.Store
	riskStore    risk.Store
	orchestrator *session.Orchestrator
	sweeper      *session.Sweeper
	webhookStore webhooks.Store
	dispatcher   *webhooks.Dispatcher
	emitter      *webhooks.Emitter
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc       // cancels background goroutines started in Run
	stopTraces   func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.sessionStore = session.NewPostgresStore(db)
		s.riskStore = risk.NewPostgresStore(db)
		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("database", health.PingChecker("database", db.PingContext))
	} else {
		s.sessionStore = session.NewMemoryStore()
		s.riskStore = risk.NewMemoryStore()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Question bank for knowledge challenges
	bank := rag.DefaultBank()
	if cfg.QuestionBank != "" {
		loaded, err := rag.LoadBank(cfg.QuestionBank)
		if err != nil {
			return nil, fmt.Errorf("failed to load question bank: %w", err)
		}
		bank = loaded
		s.logger.Info("question bank loaded", "path", cfg.QuestionBank, "questions", bank.Size())
	}
	ragEngine := rag.NewEngine(bank, cfg.RAGMaxAttempts, cfg.RAGDeadline)

	// Risk scoring and challenge orchestration
	riskEngine := risk.NewEngine(s.riskStore)
	breaker := circuitbreaker.New(5, 30*time.Second)
	providers := provider.NewRegistry(breaker)

	s.orchestrator = session.NewOrchestrator(s.sessionStore, riskEngine, ragEngine, providers).
		WithLogger(s.logger).
		WithStepDeadline(cfg.StepDeadline)

	// Verifiers for every dispatchable step kind. Demo mode (no DB)
	// simulates provider results in-process; otherwise dispatch issues a
	// handle and waits for the provider callback endpoint.
	dispatchable := []challenge.StepKind{
		challenge.KindPassiveBiometric,
		challenge.KindGesture,
		challenge.KindLiveness,
		challenge.KindVideoKYC,
		challenge.KindHardwareAttestation,
	}
	if s.db == nil {
		sim := provider.NewSimulated(s.orchestrator, 2*time.Second)
		for _, kind := range dispatchable {
			providers.Register(kind, sim)
		}
		s.logger.Info("simulated providers enabled (demo mode)")
	} else {
		ext := provider.NewExternal(s.logger)
		for _, kind := range dispatchable {
			providers.Register(kind, ext)
		}
		s.logger.Info("external providers enabled (callback mode)")
	}

	// Session expiry. The longest plan runs two provider-backed steps.
	stepMax := cfg.StepDeadline
	if cfg.RAGDeadline > stepMax {
		stepMax = cfg.RAGDeadline
	}
	ttl := 2*stepMax + cfg.SessionGrace
	s.sweeper = session.NewSweeper(s.orchestrator, s.sessionStore, ttl, s.logger)

	// Webhooks
	s.dispatcher = webhooks.NewDispatcher(s.webhookStore)
	s.emitter = webhooks.NewEmitter(s.dispatcher, s.logger)
	s.logger.Info("webhooks enabled")

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	s.wireEvents()

	// Tracing (optional)
	if cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(context.Background(), cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("failed to initialize tracing", "error", err)
		} else {
			s.stopTraces = shutdown
		}
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// wireEvents connects orchestrator hooks to webhooks and the realtime hub.
func (s *Server) wireEvents() {
	s.orchestrator.OnStart(func(sess *session.Session) {
		plan := make([]string, 0, len(sess.Plan.Steps))
		for _, step := range sess.Plan.Steps {
			plan = append(plan, string(step.Kind))
		}
		s.emitter.EmitSessionStarted(sess.Channel, sess.ID, int(sess.Assessment.Tier), sess.Assessment.Score, plan)
		s.realtimeHub.BroadcastSessionStarted(map[string]interface{}{
			"sessionId": sess.ID,
			"channel":   sess.Channel,
			"tier":      int(sess.Assessment.Tier),
			"score":     sess.Assessment.Score,
			"plan":      plan,
		})
	})

	s.orchestrator.OnStep(func(sess *session.Session, step challenge.Step) {
		s.emitter.EmitChallengeIssued(sess.Channel, sess.ID, string(step.Kind))
		s.realtimeHub.BroadcastChallenge(map[string]interface{}{
			"sessionId": sess.ID,
			"channel":   sess.Channel,
			"kind":      string(step.Kind),
			"stepIndex": sess.CurrentStep,
		})
	})

	s.orchestrator.OnDecision(func(sess *session.Session) {
		tier := int(sess.Assessment.Tier)
		switch sess.Decision {
		case session.DecisionApproved:
			s.emitter.EmitSessionApproved(sess.Channel, sess.ID, tier)
		case session.DecisionDenied:
			reason := "abandoned"
			if n := len(sess.StepResults); n > 0 {
				reason = sess.StepResults[n-1].Detail
			}
			s.emitter.EmitSessionDenied(sess.Channel, sess.ID, tier, reason)
		case session.DecisionBlocked:
			s.emitter.EmitSessionBlocked(sess.Channel, sess.ID, tier, sess.Assessment.Factors)
		}
		s.realtimeHub.BroadcastDecision(map[string]interface{}{
			"sessionId": sess.ID,
			"channel":   sess.Channel,
			"decision":  string(sess.Decision),
			"tier":      tier,
		})
	})
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.SessionParamMiddleware())

	sessionHandler := session.NewHandler(s.orchestrator, s.riskStore)
	authHandler := auth.NewHandler(s.authMgr)

	// PUBLIC ROUTES (no auth required)
	// Read-only session snapshots, audit trail, and aggregate stats
	sessionHandler.RegisterRoutes(v1)
	v1.GET("/realtime/stats", s.realtimeStatsHandler)
	v1.GET("/auth/info", authHandler.Info)

	// CHANNEL REGISTRATION (admin-gated, returns API key)
	v1.POST("/channels", auth.RequireAdminSecret(s.cfg.AdminSecret), authHandler.RegisterChannel)

	// PROVIDER CALLBACK (shared-secret auth, not API-key auth)
	v1.POST("/providers/callback", s.providerCallbackHandler)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		// Session lifecycle mutations
		sessionHandler.RegisterProtectedRoutes(protected)

		// API key management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.GET("/auth/me", authHandler.GetCurrentChannel)
	}

	// Webhook management (must own the channel)
	webhookHandler := webhooks.NewHandler(s.webhookStore, s.dispatcher)
	if s.cfg.WebhookSecret != "" {
		webhookHandler = webhookHandler.WithDefaultSecret(s.cfg.WebhookSecret)
	}
	protectedWebhooks := v1.Group("")
	protectedWebhooks.Use(auth.Middleware(s.authMgr), auth.RequireChannel(s.authMgr, "channel"))
	webhookHandler.RegisterRoutes(protectedWebhooks)
}

// providerCallbackHandler handles POST /v1/providers/callback. External
// verification providers report step outcomes here; the handle fences
// off stale or replayed reports.
func (s *Server) providerCallbackHandler(c *gin.Context) {
	if s.cfg.CallbackSecret != "" && c.GetHeader("X-Callback-Secret") != s.cfg.CallbackSecret {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Invalid callback secret",
		})
		return
	}

	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
		Handle    string `json:"handle" binding:"required"`
		Outcome   string `json:"outcome" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "sessionId, handle, and outcome are required",
		})
		return
	}

	var success bool
	switch req.Outcome {
	case "verified":
		success = true
	case "rejected":
		success = false
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_outcome",
			"message": "outcome must be 'verified' or 'rejected'",
		})
		return
	}

	s.orchestrator.HandleProviderResult(req.SessionID, req.Handle, success)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "BankShield",
		"description": "Risk-adaptive step-up authentication for banking channels",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start session expiry sweeper
	go s.sweeper.Start(runCtx)

	// Export database pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop session sweeper
	if s.sweeper != nil {
		s.sweeper.Stop()
		s.logger.Info("session sweeper stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
