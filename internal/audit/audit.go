// Package audit records every user query and tool invocation to an
// append-only trail. Recording is exception-safe: a storage failure is
// logged and the conversation continues, it never blocks the main flow.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyFinalized is returned when a record is finalized twice. The
// trail is append-once; a second outcome for the same query is rejected.
var ErrAlreadyFinalized = errors.New("audit record already finalized")

const (
	// ResponseSummaryLimit caps the stored response excerpt.
	ResponseSummaryLimit = 500
	// ToolSummaryLimit caps the stored tool result excerpt.
	ToolSummaryLimit = 1000
)

// sensitiveKeys are substrings of argument keys whose values are redacted
// before storage.
var sensitiveKeys = []string{
	"api_key", "password", "secret", "token", "credential",
	"authorization", "auth",
}

// DataAccess names one tool invocation in a query's data-access trail,
// with its arguments already redacted.
type DataAccess struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Record is one audited query. It is inserted provisionally before the
// model call and finalized with the outcome afterwards.
type Record struct {
	ID                     string
	SessionID              string
	Subject                string
	Timestamp              time.Time
	QueryText              string
	ResponseSummary        string
	DataAccessed           []DataAccess
	PermissionChecksPassed bool
	ErrorOccurred          bool
	ErrorMessage           string
	ToolsCalled            int
	ProcessingTimeMs       int64
	Finalized              bool
}

// ToolCallRecord is one audited tool invocation, linked to its parent
// query record.
type ToolCallRecord struct {
	ID            string
	AuditID       string
	SessionID     string
	Subject       string
	ToolName      string
	Arguments     map[string]any
	Status        string
	ResultSummary string
	ErrorDetails  string
	DurationMs    int64
	Timestamp     time.Time
}

// Finalization carries the outcome written onto a provisional record.
type Finalization struct {
	ResponseSummary        string
	DataAccessed           []DataAccess
	PermissionChecksPassed bool
	ErrorOccurred          bool
	ErrorMessage           string
	ToolsCalled            int
	ProcessingTimeMs       int64
}

// Store persists audit records. FinalizeRecord must return
// ErrAlreadyFinalized when the record's outcome was already written.
type Store interface {
	InsertRecord(ctx context.Context, rec *Record) error
	FinalizeRecord(ctx context.Context, id string, fin Finalization) error
	InsertToolCall(ctx context.Context, rec *ToolCallRecord) error
}

// Recorder is the audit trail front end.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates an audit recorder backed by the given store.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// LogQuery inserts a provisional record for a user query and returns its
// ID. On storage failure it logs and returns "", and processing continues
// without a trail entry for this query.
func (r *Recorder) LogQuery(ctx context.Context, sessionID, subject, queryText string) string {
	rec := &Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Subject:   subject,
		Timestamp: r.now().UTC(),
		QueryText: queryText,
	}
	if err := r.store.InsertRecord(ctx, rec); err != nil {
		r.logger.ErrorContext(ctx, "failed to create audit record",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		return ""
	}
	return rec.ID
}

// FinalizeQuery writes the outcome onto a provisional record. A blank ID
// (from a failed LogQuery) is a no-op. The response summary is truncated
// before storage. A duplicate finalize returns ErrAlreadyFinalized; other
// storage failures are logged and swallowed.
func (r *Recorder) FinalizeQuery(ctx context.Context, auditID string, fin Finalization) error {
	if auditID == "" {
		return nil
	}
	fin.ResponseSummary = truncate(fin.ResponseSummary, ResponseSummaryLimit)

	err := r.store.FinalizeRecord(ctx, auditID, fin)
	if errors.Is(err, ErrAlreadyFinalized) {
		r.logger.WarnContext(ctx, "duplicate audit finalize rejected",
			slog.String("audit_id", auditID),
		)
		return err
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to finalize audit record",
			slog.String("audit_id", auditID),
			slog.Any("error", err),
		)
	}
	return nil
}

// LogToolCall records one tool invocation. Arguments are redacted and the
// result summary truncated before storage. Storage failures are logged and
// swallowed.
func (r *Recorder) LogToolCall(ctx context.Context, rec ToolCallRecord) string {
	rec.ID = uuid.NewString()
	rec.Timestamp = r.now().UTC()
	rec.Arguments = Redact(rec.Arguments)
	rec.ResultSummary = truncate(rec.ResultSummary, ToolSummaryLimit)

	if err := r.store.InsertToolCall(ctx, &rec); err != nil {
		r.logger.ErrorContext(ctx, "failed to create tool call record",
			slog.String("tool", rec.ToolName),
			slog.String("audit_id", rec.AuditID),
			slog.Any("error", err),
		)
		return ""
	}
	return rec.ID
}

// Redact returns a copy of args with values under sensitive keys replaced
// by "[REDACTED]". Key matching is by case-insensitive substring and
// recurses into nested maps.
func Redact(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	safe := make(map[string]any, len(args))
	for key, value := range args {
		if isSensitive(key) {
			safe[key] = "[REDACTED]"
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			safe[key] = Redact(nested)
			continue
		}
		safe[key] = value
	}
	return safe
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
