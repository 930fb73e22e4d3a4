package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/finsight-ai/finsight/internal/session"
)

// Compile-time interface check.
var _ session.Store = (*SessionRepository)(nil)

// SessionRepository implements session.Store with GORM.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession inserts a new session row.
func (r *SessionRepository) CreateSession(ctx context.Context, s *session.Session) error {
	model := toSessionModel(s)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession returns a session by ID or session.ErrNotFound.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var model SessionModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	return toSession(&model), nil
}

// ListSessions returns the subject's sessions ordered by last activity,
// newest first. An empty status means all statuses.
func (r *SessionRepository) ListSessions(ctx context.Context, subject string, status session.Status, limit int) ([]*session.Session, error) {
	q := r.db.WithContext(ctx).Where("subject = ?", subject)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}

	var models []SessionModel
	if err := q.Order("last_activity DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	sessions := make([]*session.Session, len(models))
	for i := range models {
		sessions[i] = toSession(&models[i])
	}
	return sessions, nil
}

// SetSessionStatus updates the lifecycle state.
func (r *SessionRepository) SetSessionStatus(ctx context.Context, id string, status session.Status) error {
	res := r.db.WithContext(ctx).
		Model(&SessionModel{}).
		Where("id = ?", id).
		Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("updating session status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return session.ErrNotFound
	}
	return nil
}

// RecordActivity bumps the message and token counters and last_activity.
func (r *SessionRepository) RecordActivity(ctx context.Context, id string, messages, tokens int) error {
	res := r.db.WithContext(ctx).
		Model(&SessionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"message_count": gorm.Expr("message_count + ?", messages),
			"total_tokens":  gorm.Expr("total_tokens + ?", tokens),
			"last_activity": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("recording session activity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return session.ErrNotFound
	}
	return nil
}

// DeleteSession removes the session and its messages in one transaction.
// Audit records are retained.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&MessageModel{}).Error; err != nil {
			return fmt.Errorf("deleting session messages: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&SessionModel{}).Error; err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		return nil
	})
}

// AppendMessages inserts message rows.
func (r *SessionRepository) AppendMessages(ctx context.Context, msgs []*session.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	models := make([]MessageModel, len(msgs))
	for i, m := range msgs {
		models[i] = toMessageModel(m)
	}
	if err := r.db.WithContext(ctx).Create(&models).Error; err != nil {
		return fmt.Errorf("inserting messages: %w", err)
	}
	return nil
}

// RecentMessages returns the newest N messages, reordered oldest-first.
func (r *SessionRepository) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*session.Message, error) {
	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
		models[i], models[j] = models[j], models[i]
	}
	msgs := make([]*session.Message, len(models))
	for i := range models {
		msgs[i] = toMessage(&models[i])
	}
	return msgs, nil
}

// FirstUserMessage returns the content of the oldest user message, or ""
// when the session has none.
func (r *SessionRepository) FirstUserMessage(ctx context.Context, sessionID string) (string, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND role = ?", sessionID, "user").
		Order("timestamp ASC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading first message: %w", err)
	}
	return model.Content, nil
}

// ExpireIdleSessions marks active sessions idle since before cutoff as
// Expired and returns the count.
func (r *SessionRepository) ExpireIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&SessionModel{}).
		Where("status = ? AND last_activity < ?", string(session.StatusActive), cutoff).
		Update("status", string(session.StatusExpired))
	if res.Error != nil {
		return 0, fmt.Errorf("expiring sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteSessionsBefore removes sessions created before cutoff, with their
// messages. Audit records are retained.
func (r *SessionRepository) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&SessionModel{}).
			Where("created_at < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("finding old sessions: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&MessageModel{}).Error; err != nil {
			return fmt.Errorf("deleting old messages: %w", err)
		}
		res := tx.Where("id IN ?", ids).Delete(&SessionModel{})
		if res.Error != nil {
			return fmt.Errorf("deleting old sessions: %w", res.Error)
		}
		count = res.RowsAffected
		return nil
	})
	return count, err
}

func toSessionModel(s *session.Session) SessionModel {
	return SessionModel{
		ID:             s.ID,
		Subject:        s.Subject,
		Status:         string(s.Status),
		CompanyContext: s.CompanyContext,
		MessageCount:   s.MessageCount,
		TotalTokens:    s.TotalTokens,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.LastActivity,
	}
}

func toSession(m *SessionModel) *session.Session {
	return &session.Session{
		ID:             m.ID,
		Subject:        m.Subject,
		Status:         session.Status(m.Status),
		CompanyContext: m.CompanyContext,
		MessageCount:   m.MessageCount,
		TotalTokens:    m.TotalTokens,
		CreatedAt:      m.CreatedAt,
		LastActivity:   m.LastActivity,
	}
}

func toMessageModel(m *session.Message) MessageModel {
	return MessageModel{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Role:       m.Role,
		Content:    m.Content,
		TokenCount: m.TokenCount,
		Timestamp:  m.Timestamp,
	}
}

func toMessage(m *MessageModel) *session.Message {
	return &session.Message{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Role:       m.Role,
		Content:    m.Content,
		TokenCount: m.TokenCount,
		Timestamp:  m.Timestamp,
	}
}
