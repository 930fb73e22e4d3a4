package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsight-ai/finsight/internal/audit"
	"github.com/finsight-ai/finsight/internal/permission"
	"github.com/finsight-ai/finsight/internal/sanitize"
)

// Status classifies a tool execution outcome. Every dispatch returns a
// result string and one of these; tool failures never escape as errors.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusError            Status = "error"
	StatusPermissionDenied Status = "permission_denied"
)

const argsMaxDepth = 5

// Dispatcher routes tool calls through sanitization, permission checks,
// execution, and audit recording.
type Dispatcher struct {
	registry *Registry
	checker  *permission.Checker
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *Registry, checker *permission.Checker, recorder *audit.Recorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		checker:  checker,
		recorder: recorder,
		logger:   logger,
	}
}

// Execute runs one tool call. The returned string is always safe to hand
// back to the model: unknown tools, refusals, and failures come back as
// text with the matching status. auditID links the tool call record to
// its parent query record and may be empty.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any, auditID string, inv Invocation) (string, Status) {
	start := time.Now()

	tool := d.registry.Get(name)
	if tool == nil {
		result := fmt.Sprintf("Unknown tool: %s", name)
		d.record(ctx, name, args, auditID, inv, StatusError, result, result, start)
		return result, StatusError
	}

	args = sanitize.Map(args, argsMaxDepth)

	if resource := tool.Resource(); resource != "" {
		if err := d.checker.HasCapability(ctx, inv.Subject, resource, permission.ActionRead); err != nil {
			result := fmt.Sprintf("Permission denied: you do not have read access to %s.", resource)
			d.record(ctx, name, args, auditID, inv, StatusPermissionDenied, result, err.Error(), start)
			return result, StatusPermissionDenied
		}
	}

	d.logger.DebugContext(ctx, "executing tool",
		slog.String("tool", name),
		slog.String("session_id", inv.SessionID),
		slog.String("subject", inv.Subject),
	)

	output, err := tool.Execute(ctx, args, inv)
	if err != nil {
		if errors.Is(err, permission.ErrDenied) {
			result := fmt.Sprintf("Permission denied: %s", err.Error())
			d.record(ctx, name, args, auditID, inv, StatusPermissionDenied, result, err.Error(), start)
			return result, StatusPermissionDenied
		}
		result := fmt.Sprintf("Error executing %s: %s", name, err.Error())
		d.logger.ErrorContext(ctx, "tool execution failed",
			slog.String("tool", name),
			slog.Any("error", err),
		)
		d.record(ctx, name, args, auditID, inv, StatusError, result, err.Error(), start)
		return result, StatusError
	}

	output = TruncateOutput(output, MaxOutputBytes)
	d.record(ctx, name, args, auditID, inv, StatusSuccess, output, "", start)
	return output, StatusSuccess
}

func (d *Dispatcher) record(ctx context.Context, name string, args map[string]any, auditID string, inv Invocation, status Status, result, errDetails string, start time.Time) {
	d.recorder.LogToolCall(ctx, audit.ToolCallRecord{
		AuditID:       auditID,
		SessionID:     inv.SessionID,
		Subject:       inv.Subject,
		ToolName:      name,
		Arguments:     args,
		Status:        string(status),
		ResultSummary: result,
		ErrorDetails:  errDetails,
		DurationMs:    time.Since(start).Milliseconds(),
	})
}
