// Package ws implements the WebSocket chat endpoint. Clients connect,
// authenticate with an API key, and exchange chat turns over a single
// long-lived connection instead of polling the HTTP API.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/finsight-ai/finsight/internal/agent"
	"github.com/finsight-ai/finsight/internal/observability"
	"github.com/finsight-ai/finsight/internal/ratelimit"
	"github.com/finsight-ai/finsight/internal/session"
)

// Message types exchanged over the socket.
const (
	MsgChatMessage    = "chat.message"
	MsgChatResult     = "chat.result"
	MsgSessionCreate  = "session.create"
	MsgSessionCreated = "session.created"
	MsgPing           = "ping"
	MsgPong           = "pong"
	MsgError          = "error"
)

// Envelope is one frame on the socket. Fields are populated per Type.
type Envelope struct {
	Type           string           `json:"type"`
	SessionID      string           `json:"session_id,omitempty"`
	Message        string           `json:"message,omitempty"`
	CompanyContext string           `json:"company_context,omitempty"`
	Result         *agent.Result    `json:"result,omitempty"`
	Session        *session.Session `json:"session,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// Processor handles one chat turn. Satisfied by *agent.Orchestrator.
type Processor interface {
	ProcessMessage(ctx context.Context, sessionID, userMessage, subject string) *agent.Result
}

// Server is the WebSocket chat server.
type Server struct {
	processor Processor
	sessions  *session.Manager
	limiter   *ratelimit.Limiter
	apiKeys   map[string]string // API key -> subject
	metrics   *observability.MetricsCollector
	logger    *slog.Logger
}

// NewServer creates a WebSocket chat server. apiKeys maps API keys to
// subjects, shared with the HTTP gateway.
func NewServer(p Processor, sessions *session.Manager, rl *ratelimit.Limiter, apiKeys map[string]string, logger *slog.Logger) *Server {
	return &Server{
		processor: p,
		sessions:  sessions,
		limiter:   rl,
		apiKeys:   apiKeys,
		logger:    logger,
	}
}

// WithMetrics enables turn and session counters. A nil collector is a no-op.
func (s *Server) WithMetrics(m *observability.MetricsCollector) *Server {
	s.metrics = m
	return s
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	subject := s.authenticate(r)
	if subject == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"finsight-chat-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("websocket client connected", slog.String("subject", subject))
	s.handleConnection(r.Context(), conn, subject)
}

// authenticate resolves the API key from the token query parameter or the
// Authorization header to a subject. Empty means unauthorized.
func (s *Server) authenticate(r *http.Request) string {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		token = strings.TrimPrefix(token, "Bearer ")
	}
	if token == "" {
		return ""
	}
	for key, subject := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return subject
		}
	}
	return ""
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, subject string) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("websocket client disconnected", slog.String("subject", subject))
			} else {
				s.logger.Warn("websocket connection error",
					slog.String("subject", subject),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.writeEnvelope(ctx, conn, &Envelope{Type: MsgError, Error: "invalid message"})
			continue
		}

		s.handleMessage(ctx, conn, subject, &env)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, subject string, env *Envelope) {
	switch env.Type {
	case MsgPing:
		s.writeEnvelope(ctx, conn, &Envelope{Type: MsgPong})

	case MsgSessionCreate:
		sess, err := s.sessions.Create(ctx, subject, env.CompanyContext)
		if err != nil {
			s.logger.Error("websocket session create failed",
				slog.String("subject", subject),
				slog.String("error", err.Error()),
			)
			s.writeEnvelope(ctx, conn, &Envelope{Type: MsgError, Error: "session creation failed"})
			return
		}
		if s.metrics != nil {
			s.metrics.SessionsCreatedTotal.Inc()
		}
		s.writeEnvelope(ctx, conn, &Envelope{Type: MsgSessionCreated, SessionID: sess.ID, Session: sess})

	case MsgChatMessage:
		if env.SessionID == "" {
			s.writeEnvelope(ctx, conn, &Envelope{Type: MsgError, Error: "session_id is required"})
			return
		}
		if strings.TrimSpace(env.Message) == "" {
			s.writeEnvelope(ctx, conn, &Envelope{Type: MsgError, Error: "message is required"})
			return
		}
		if s.limiter != nil {
			if err := s.limiter.Check(subject); err != nil {
				if s.metrics != nil {
					s.metrics.RateLimitRejectionsTotal.WithLabelValues(subject).Inc()
				}
				s.writeEnvelope(ctx, conn, &Envelope{Type: MsgError, SessionID: env.SessionID, Error: err.Error()})
				return
			}
		}

		// A turn outlives a dropped connection so the audit trail stays
		// complete.
		turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		result := s.processor.ProcessMessage(turnCtx, env.SessionID, env.Message, subject)
		cancel()
		s.metrics.RecordTurn(result)

		s.writeEnvelope(ctx, conn, &Envelope{Type: MsgChatResult, SessionID: env.SessionID, Result: result})

	default:
		s.writeEnvelope(ctx, conn, &Envelope{Type: MsgError, Error: "unknown message type: " + env.Type})
	}
}

func (s *Server) writeEnvelope(ctx context.Context, conn *websocket.Conn, env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("websocket write failed", slog.String("error", err.Error()))
	}
}
