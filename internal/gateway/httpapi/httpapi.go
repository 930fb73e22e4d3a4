// Package httpapi implements the HTTP API gateway for Finsight.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-subject rate limiting on message submission
//   - All requests logged with the acting subject
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/finsight-ai/finsight/internal/agent"
	"github.com/finsight-ai/finsight/internal/observability"
	"github.com/finsight-ai/finsight/internal/ratelimit"
	"github.com/finsight-ai/finsight/internal/session"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Processor handles one chat turn. Satisfied by *agent.Orchestrator.
type Processor interface {
	ProcessMessage(ctx context.Context, sessionID, userMessage, subject string) *agent.Result
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeySubjects map[string]string // API key -> subject mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config    Config
	processor Processor
	sessions  *session.Manager
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	server    *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., WebSocket chat endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, p Processor, sessions *session.Manager, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:    cfg,
		processor: p,
		sessions:  sessions,
		limiter:   rl,
		logger:    logger,
		okapi:     okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Finsight",
			Version: "v0.1.0",
		},
	)
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Useful for adding the WebSocket chat endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Session endpoints.
	g.group.Post("/sessions", g.handleSessionCreate,
		okapi.DocSummary("Start a new chat session"),
		okapi.DocTags("Sessions"),
		okapi.DocRequestBody(SessionCreateRequest{}),
		okapi.DocResponse(http.StatusCreated, SessionResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/sessions", g.handleSessionList,
		okapi.DocSummary("List the subject's chat sessions"),
		okapi.DocTags("Sessions"),
		okapi.DocResponse([]SessionResponse{}),
	)
	g.group.Get("/sessions/{id}", g.handleSessionGet,
		okapi.DocSummary("Get a chat session"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocResponse(SessionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/sessions/{id}/close", g.handleSessionClose,
		okapi.DocSummary("Close a chat session"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocResponse(SessionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/sessions/{id}", g.handleSessionDelete,
		okapi.DocSummary("Delete a chat session and its messages"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Chat endpoints.
	g.group.Post("/sessions/{id}/messages", g.handleMessage,
		okapi.DocSummary("Send a message to the AI assistant"),
		okapi.DocTags("Chat"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocRequestBody(MessageRequest{}),
		okapi.DocResponse(agent.Result{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/sessions/{id}/messages/stream", g.handleMessageStream,
		okapi.DocSummary("Send a message and stream the response via SSE"),
		okapi.DocTags("Chat"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocRequestBody(MessageRequest{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/sessions/{id}/messages", g.handleHistory,
		okapi.DocSummary("Get recent session messages"),
		okapi.DocTags("Chat"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocResponse([]session.Message{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Rate limit introspection.
	g.group.Get("/ratelimit", g.handleRateLimit,
		okapi.DocSummary("Get the subject's remaining request budget"),
		okapi.DocTags("Chat"),
		okapi.DocResponse(ratelimit.Status{}),
	)

	// Extra handlers (e.g., WebSocket chat endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Session Handlers ---

// SessionCreateRequest is the JSON body for POST /v1/sessions.
type SessionCreateRequest struct {
	CompanyContext string `json:"company_context,omitempty"`
}

// SessionResponse mirrors a session in API responses.
type SessionResponse struct {
	SessionID           string `json:"session_id"`
	Status              string `json:"status"`
	CompanyContext      string `json:"company_context,omitempty"`
	MessageCount        int    `json:"message_count"`
	TotalTokens         int    `json:"total_tokens"`
	CreatedAt           string `json:"created_at"`
	LastActivity        string `json:"last_activity"`
	FirstMessagePreview string `json:"first_message_preview,omitempty"`
}

func toSessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		SessionID:           s.ID,
		Status:              string(s.Status),
		CompanyContext:      s.CompanyContext,
		MessageCount:        s.MessageCount,
		TotalTokens:         s.TotalTokens,
		CreatedAt:           s.CreatedAt.UTC().Format(time.RFC3339),
		LastActivity:        s.LastActivity.UTC().Format(time.RFC3339),
		FirstMessagePreview: s.FirstMessagePreview,
	}
}

func (g *Gateway) handleSessionCreate(c *okapi.Context) error {
	subject := c.GetString("subject")

	var req SessionCreateRequest
	// Empty body is fine, company context is optional.
	_ = c.Bind(&req)

	sess, err := g.sessions.Create(c.Context(), subject, req.CompanyContext)
	if err != nil {
		g.logger.Error("session create failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("session creation failed")
	}

	if g.config.Metrics != nil {
		g.config.Metrics.SessionsCreatedTotal.Inc()
	}

	g.logger.Info("http session created",
		slog.String("subject", subject),
		slog.String("session_id", sess.ID),
	)
	return c.JSON(http.StatusCreated, toSessionResponse(sess))
}

func (g *Gateway) handleSessionList(c *okapi.Context) error {
	subject := c.GetString("subject")

	q := c.Request().URL.Query()
	status := session.Status(q.Get("status"))
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.AbortBadRequest("limit must be a non-negative integer")
		}
		limit = n
	}

	list, err := g.sessions.List(c.Context(), subject, status, limit)
	if err != nil {
		return c.AbortInternalServerError("session listing failed")
	}

	resp := make([]SessionResponse, len(list))
	for i, s := range list {
		resp[i] = toSessionResponse(s)
	}
	return c.OK(resp)
}

func (g *Gateway) handleSessionGet(c *okapi.Context) error {
	subject := c.GetString("subject")

	sess, err := g.sessions.Get(c.Context(), c.Param("id"), subject)
	if err != nil {
		return sessionError(c, err)
	}
	return c.OK(toSessionResponse(sess))
}

func (g *Gateway) handleSessionClose(c *okapi.Context) error {
	subject := c.GetString("subject")

	sess, err := g.sessions.Close(c.Context(), c.Param("id"), subject)
	if err != nil {
		return sessionError(c, err)
	}
	return c.OK(toSessionResponse(sess))
}

func (g *Gateway) handleSessionDelete(c *okapi.Context) error {
	subject := c.GetString("subject")

	if err := g.sessions.Delete(c.Context(), c.Param("id"), subject); err != nil {
		return sessionError(c, err)
	}
	return c.OK(map[string]string{"status": "deleted"})
}

// --- Chat Handlers ---

// MessageRequest is the JSON body for POST /v1/sessions/{id}/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

func (g *Gateway) handleMessage(c *okapi.Context) error {
	subject := c.GetString("subject")
	sessionID := c.Param("id")

	// Rate limit before any model work. The error text carries the
	// retry-after seconds.
	if g.limiter != nil {
		if err := g.limiter.Check(subject); err != nil {
			if g.config.Metrics != nil {
				g.config.Metrics.RateLimitRejectionsTotal.WithLabelValues(subject).Inc()
			}
			return c.AbortTooManyRequests(err.Error())
		}
	}

	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("message is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.AbortBadRequest("message is required")
	}

	g.logger.Info("http chat message",
		slog.String("subject", subject),
		slog.String("session_id", sessionID),
	)

	result := g.processor.ProcessMessage(c.Context(), sessionID, req.Message, subject)
	if g.config.Metrics != nil {
		g.config.Metrics.RecordTurn(result)
	}
	return c.OK(result)
}

func (g *Gateway) handleHistory(c *okapi.Context) error {
	subject := c.GetString("subject")
	sessionID := c.Param("id")

	// Ownership check before reading any messages.
	if _, err := g.sessions.Get(c.Context(), sessionID, subject); err != nil {
		return sessionError(c, err)
	}

	limit := 0
	if raw := c.Request().URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.AbortBadRequest("limit must be a non-negative integer")
		}
		limit = n
	}

	msgs, err := g.sessions.History(c.Context(), sessionID, limit)
	if err != nil {
		return c.AbortInternalServerError("history lookup failed")
	}
	if msgs == nil {
		msgs = []*session.Message{}
	}
	return c.OK(msgs)
}

func (g *Gateway) handleRateLimit(c *okapi.Context) error {
	subject := c.GetString("subject")
	if g.limiter == nil {
		return c.OK(ratelimit.Status{})
	}
	return c.OK(g.limiter.Status(subject))
}

// --- Observability Handlers ---

// HealthResponse is the JSON response for the liveness probe.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped subject on the
// request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		subject := ""
		for key, sub := range g.config.APIKeySubjects {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				subject = sub
			}
		}
		if subject == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("subject", subject)
		return next(c)
	}
}

// --- Helpers ---

// sessionError maps session lifecycle errors to HTTP responses.
func sessionError(c *okapi.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
	case errors.Is(err, session.ErrNotOwner):
		return c.JSON(http.StatusForbidden, okapi.M{"error": "session belongs to a different user"})
	case errors.Is(err, session.ErrNotActive):
		return c.JSON(http.StatusConflict, okapi.M{"error": "session is not active"})
	default:
		return c.AbortInternalServerError("session error")
	}
}
