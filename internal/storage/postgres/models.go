package postgres

import (
	"encoding/json"
	"time"
)

// JSONB is a json.RawMessage stored in a JSONB (Postgres) or TEXT (SQLite)
// column.
type JSONB json.RawMessage

// SessionModel maps to the "chat_sessions" table.
type SessionModel struct {
	ID             string `gorm:"primaryKey"`
	Subject        string `gorm:"not null;index"`
	Status         string `gorm:"not null;index"`
	CompanyContext string
	MessageCount   int `gorm:"not null;default:0"`
	TotalTokens    int `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"index"`
	LastActivity   time.Time `gorm:"index"`
}

func (SessionModel) TableName() string { return "chat_sessions" }

// MessageModel maps to the "chat_messages" table.
type MessageModel struct {
	ID         string `gorm:"primaryKey"`
	SessionID  string `gorm:"not null;index"`
	Role       string `gorm:"not null"`
	Content    string `gorm:"type:text"`
	TokenCount int
	Timestamp  time.Time `gorm:"index"`
}

func (MessageModel) TableName() string { return "chat_messages" }

// AuditRecordModel maps to the "audit_records" table. Rows are never
// deleted by session cleanup.
type AuditRecordModel struct {
	ID                     string `gorm:"primaryKey"`
	SessionID              string `gorm:"not null;index"`
	Subject                string `gorm:"not null;index"`
	Timestamp              time.Time `gorm:"index"`
	QueryText              string `gorm:"type:text"`
	ResponseSummary        string `gorm:"type:text"`
	DataAccessed           JSONB  `gorm:"type:jsonb"`
	PermissionChecksPassed bool   `gorm:"not null;default:false"`
	ErrorOccurred          bool   `gorm:"not null;default:false"`
	ErrorMessage           string
	ToolsCalled            int `gorm:"not null;default:0"`
	ProcessingTimeMs       int64
	Finalized              bool `gorm:"not null;default:false"`
}

func (AuditRecordModel) TableName() string { return "audit_records" }

// ToolCallModel maps to the "tool_call_records" table.
type ToolCallModel struct {
	ID            string `gorm:"primaryKey"`
	AuditID       string `gorm:"index"`
	SessionID     string `gorm:"not null;index"`
	Subject       string `gorm:"not null"`
	ToolName      string `gorm:"not null;index"`
	Arguments     JSONB  `gorm:"type:jsonb"`
	Status        string `gorm:"not null"`
	ResultSummary string `gorm:"type:text"`
	ErrorDetails  string
	DurationMs    int64
	Timestamp     time.Time `gorm:"index"`
}

func (ToolCallModel) TableName() string { return "tool_call_records" }
