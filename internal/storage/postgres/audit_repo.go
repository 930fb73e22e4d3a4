package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/finsight-ai/finsight/internal/audit"
)

// Compile-time interface check.
var _ audit.Store = (*AuditRepository)(nil)

// AuditRepository implements audit.Store with GORM. Records are
// append-only; finalization is the single permitted update and only
// succeeds once per record.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// InsertRecord inserts a provisional audit record.
func (r *AuditRepository) InsertRecord(ctx context.Context, rec *audit.Record) error {
	model, err := toAuditModel(rec)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// FinalizeRecord writes the outcome onto an unfinalized record. The
// guarded update makes the first finalize win; any later attempt sees an
// already-finalized row and gets audit.ErrAlreadyFinalized.
func (r *AuditRepository) FinalizeRecord(ctx context.Context, id string, fin audit.Finalization) error {
	accessed, err := marshalAccessed(fin.DataAccessed)
	if err != nil {
		return err
	}

	res := r.db.WithContext(ctx).
		Model(&AuditRecordModel{}).
		Where("id = ? AND finalized = ?", id, false).
		Updates(map[string]any{
			"response_summary":         fin.ResponseSummary,
			"data_accessed":            accessed,
			"permission_checks_passed": fin.PermissionChecksPassed,
			"error_occurred":           fin.ErrorOccurred,
			"error_message":            fin.ErrorMessage,
			"tools_called":             fin.ToolsCalled,
			"processing_time_ms":       fin.ProcessingTimeMs,
			"finalized":                true,
		})
	if res.Error != nil {
		return fmt.Errorf("finalizing audit record: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var existing AuditRecordModel
	err = r.db.WithContext(ctx).Where("id = ?", id).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("audit record %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("looking up audit record: %w", err)
	}
	return audit.ErrAlreadyFinalized
}

// InsertToolCall inserts a tool call record.
func (r *AuditRepository) InsertToolCall(ctx context.Context, rec *audit.ToolCallRecord) error {
	var args JSONB
	if rec.Arguments != nil {
		data, err := json.Marshal(rec.Arguments)
		if err != nil {
			return fmt.Errorf("marshaling tool arguments: %w", err)
		}
		args = JSONB(data)
	}

	model := ToolCallModel{
		ID:            rec.ID,
		AuditID:       rec.AuditID,
		SessionID:     rec.SessionID,
		Subject:       rec.Subject,
		ToolName:      rec.ToolName,
		Arguments:     args,
		Status:        rec.Status,
		ResultSummary: rec.ResultSummary,
		ErrorDetails:  rec.ErrorDetails,
		DurationMs:    rec.DurationMs,
		Timestamp:     rec.Timestamp,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("inserting tool call record: %w", err)
	}
	return nil
}

// QueryTrail returns audit records for a session, newest first. Used by
// the HTTP API's audit endpoint.
func (r *AuditRepository) QueryTrail(ctx context.Context, sessionID string, limit int) ([]*audit.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []AuditRecordModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading audit trail: %w", err)
	}

	records := make([]*audit.Record, len(models))
	for i := range models {
		records[i] = toAuditRecord(&models[i])
	}
	return records, nil
}

func toAuditModel(rec *audit.Record) (AuditRecordModel, error) {
	accessed, err := marshalAccessed(rec.DataAccessed)
	if err != nil {
		return AuditRecordModel{}, err
	}
	return AuditRecordModel{
		ID:                     rec.ID,
		SessionID:              rec.SessionID,
		Subject:                rec.Subject,
		Timestamp:              rec.Timestamp,
		QueryText:              rec.QueryText,
		ResponseSummary:        rec.ResponseSummary,
		DataAccessed:           accessed,
		PermissionChecksPassed: rec.PermissionChecksPassed,
		ErrorOccurred:          rec.ErrorOccurred,
		ErrorMessage:           rec.ErrorMessage,
		ToolsCalled:            rec.ToolsCalled,
		ProcessingTimeMs:       rec.ProcessingTimeMs,
		Finalized:              rec.Finalized,
	}, nil
}

func toAuditRecord(m *AuditRecordModel) *audit.Record {
	var accessed []audit.DataAccess
	if len(m.DataAccessed) > 0 {
		_ = json.Unmarshal([]byte(m.DataAccessed), &accessed)
	}
	return &audit.Record{
		ID:                     m.ID,
		SessionID:              m.SessionID,
		Subject:                m.Subject,
		Timestamp:              m.Timestamp,
		QueryText:              m.QueryText,
		ResponseSummary:        m.ResponseSummary,
		DataAccessed:           accessed,
		PermissionChecksPassed: m.PermissionChecksPassed,
		ErrorOccurred:          m.ErrorOccurred,
		ErrorMessage:           m.ErrorMessage,
		ToolsCalled:            m.ToolsCalled,
		ProcessingTimeMs:       m.ProcessingTimeMs,
		Finalized:              m.Finalized,
	}
}

func marshalAccessed(accessed []audit.DataAccess) (JSONB, error) {
	if accessed == nil {
		return nil, nil
	}
	data, err := json.Marshal(accessed)
	if err != nil {
		return nil, fmt.Errorf("marshaling data_accessed: %w", err)
	}
	return JSONB(data), nil
}
