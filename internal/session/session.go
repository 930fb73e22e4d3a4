// Package session manages chat session lifecycle: creation, ownership
// validation, expiry, and retention cleanup.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Status is the session lifecycle state. Expired is terminal.
type Status string

const (
	StatusActive  Status = "Active"
	StatusClosed  Status = "Closed"
	StatusExpired Status = "Expired"
)

const (
	// DefaultExpiry is how long a session may sit idle before expiring.
	DefaultExpiry = 24 * time.Hour
	// DefaultRetention is how long sessions are kept before deletion.
	// Audit records are retained independently.
	DefaultRetention = 90 * 24 * time.Hour
	// DefaultHistoryLimit is the number of recent messages loaded as
	// model context.
	DefaultHistoryLimit = 20
	// MaxMessageLength caps the content of a single stored message.
	MaxMessageLength = 50000
	// previewLength caps the first-message preview on listings.
	previewLength = 100
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrNotOwner       = errors.New("session belongs to a different user")
	ErrNotActive      = errors.New("session is not active")
	ErrContentTooLong = errors.New("message content exceeds maximum length")
)

// Session is one chat conversation owned by a subject.
type Session struct {
	ID             string    `json:"session_id"`
	Subject        string    `json:"user"`
	Status         Status    `json:"status"`
	CompanyContext string    `json:"company_context,omitempty"`
	MessageCount   int       `json:"message_count"`
	TotalTokens    int       `json:"total_tokens"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`

	// FirstMessagePreview is filled on listings only.
	FirstMessagePreview string `json:"first_message_preview,omitempty"`
}

// Message is one turn in a session.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store persists sessions and their messages. GetSession returns
// ErrNotFound for unknown IDs.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, subject string, status Status, limit int) ([]*Session, error)
	SetSessionStatus(ctx context.Context, id string, status Status) error
	RecordActivity(ctx context.Context, id string, messages, tokens int) error
	DeleteSession(ctx context.Context, id string) error

	AppendMessages(ctx context.Context, msgs []*Message) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)
	FirstUserMessage(ctx context.Context, sessionID string) (string, error)

	ExpireIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Manager enforces session lifecycle rules on top of a Store.
type Manager struct {
	store     Store
	logger    *slog.Logger
	superUser string // subject allowed to touch any session
	expiry    time.Duration
	retention time.Duration
	now       func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSuperUser names a subject that may access every session.
func WithSuperUser(subject string) ManagerOption {
	return func(m *Manager) { m.superUser = subject }
}

// WithExpiry overrides the idle expiry window.
func WithExpiry(d time.Duration) ManagerOption {
	return func(m *Manager) { m.expiry = d }
}

// WithRetention overrides the retention window.
func WithRetention(d time.Duration) ManagerOption {
	return func(m *Manager) { m.retention = d }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager.
func NewManager(store Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		logger:    logger,
		expiry:    DefaultExpiry,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new active session for the subject.
func (m *Manager) Create(ctx context.Context, subject, companyContext string) (*Session, error) {
	now := m.now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Subject:        subject,
		Status:         StatusActive,
		CompanyContext: companyContext,
		CreatedAt:      now,
		LastActivity:   now,
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	m.logger.InfoContext(ctx, "session created",
		slog.String("session_id", s.ID),
		slog.String("subject", subject),
	)
	return s, nil
}

// Validate returns the session if the subject owns it and it is active.
// The super user bypasses the ownership check but not the status check.
func (m *Manager) Validate(ctx context.Context, sessionID, subject string) (*Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Subject != subject && !m.isSuperUser(subject) {
		return nil, ErrNotOwner
	}
	if s.Status != StatusActive {
		return nil, fmt.Errorf("%w: session is %s", ErrNotActive, s.Status)
	}
	return s, nil
}

// Get returns a session the subject may see regardless of status.
func (m *Manager) Get(ctx context.Context, sessionID, subject string) (*Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Subject != subject && !m.isSuperUser(subject) {
		return nil, ErrNotOwner
	}
	return s, nil
}

// List returns the subject's sessions ordered by recency, each with a
// preview of its first user message.
func (m *Manager) List(ctx context.Context, subject string, status Status, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	sessions, err := m.store.ListSessions(ctx, subject, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	for _, s := range sessions {
		first, err := m.store.FirstUserMessage(ctx, s.ID)
		if err != nil {
			continue
		}
		if len(first) > previewLength {
			first = first[:previewLength] + "..."
		}
		s.FirstMessagePreview = first
	}
	return sessions, nil
}

// Close marks a session Closed. Expired sessions cannot be closed.
func (m *Manager) Close(ctx context.Context, sessionID, subject string) (*Session, error) {
	s, err := m.Get(ctx, sessionID, subject)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusExpired {
		return nil, fmt.Errorf("%w: cannot close an expired session", ErrNotActive)
	}
	if err := m.store.SetSessionStatus(ctx, sessionID, StatusClosed); err != nil {
		return nil, fmt.Errorf("closing session: %w", err)
	}
	s.Status = StatusClosed
	return s, nil
}

// Delete removes a session and its messages. Audit records are kept.
func (m *Manager) Delete(ctx context.Context, sessionID, subject string) error {
	if _, err := m.Get(ctx, sessionID, subject); err != nil {
		return err
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	m.logger.InfoContext(ctx, "session deleted",
		slog.String("session_id", sessionID),
		slog.String("subject", subject),
	)
	return nil
}

// AppendExchange persists a user/assistant message pair and bumps the
// session's counters and last activity. The session must still be Active
// at write time; it may have been closed or expired mid-turn.
func (m *Manager) AppendExchange(ctx context.Context, sessionID string, msgs []*Message, tokens int) error {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Status != StatusActive {
		return fmt.Errorf("%w: session is %s", ErrNotActive, s.Status)
	}
	for _, msg := range msgs {
		if len(msg.Content) > MaxMessageLength {
			return fmt.Errorf("%w: %d bytes", ErrContentTooLong, len(msg.Content))
		}
	}

	now := m.now().UTC()
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msg.SessionID = sessionID
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
	}
	if err := m.store.AppendMessages(ctx, msgs); err != nil {
		return fmt.Errorf("appending messages: %w", err)
	}
	if err := m.store.RecordActivity(ctx, sessionID, len(msgs), tokens); err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

// History returns the most recent messages, oldest first.
func (m *Manager) History(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return m.store.RecentMessages(ctx, sessionID, limit)
}

// ExpireIdle marks sessions idle past the expiry window as Expired.
func (m *Manager) ExpireIdle(ctx context.Context) (int64, error) {
	cutoff := m.now().UTC().Add(-m.expiry)
	n, err := m.store.ExpireIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expiring idle sessions: %w", err)
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "expired idle sessions", slog.Int64("count", n))
	}
	return n, nil
}

// PurgeOld deletes sessions past the retention window, messages included.
func (m *Manager) PurgeOld(ctx context.Context) (int64, error) {
	cutoff := m.now().UTC().Add(-m.retention)
	n, err := m.store.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging old sessions: %w", err)
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "purged old sessions", slog.Int64("count", n))
	}
	return n, nil
}

func (m *Manager) isSuperUser(subject string) bool {
	return m.superUser != "" && subject == m.superUser
}
