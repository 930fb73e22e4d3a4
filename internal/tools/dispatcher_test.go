package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/finsight-ai/finsight/internal/audit"
	"github.com/finsight-ai/finsight/internal/permission"
)

type stubTool struct {
	name     string
	resource string
	execute  func(ctx context.Context, args map[string]any, inv Invocation) (string, error)
}

func (t *stubTool) Name() string                { return t.name }
func (t *stubTool) Description() string         { return "stub" }
func (t *stubTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (t *stubTool) Resource() string            { return t.resource }
func (t *stubTool) Execute(ctx context.Context, args map[string]any, inv Invocation) (string, error) {
	return t.execute(ctx, args, inv)
}

type memAuditStore struct {
	toolCalls []*audit.ToolCallRecord
}

func (s *memAuditStore) InsertRecord(context.Context, *audit.Record) error { return nil }
func (s *memAuditStore) FinalizeRecord(context.Context, string, audit.Finalization) error {
	return nil
}
func (s *memAuditStore) InsertToolCall(_ context.Context, rec *audit.ToolCallRecord) error {
	s.toolCalls = append(s.toolCalls, rec)
	return nil
}

func testDispatcher(t *testing.T, tools ...Tool) (*Dispatcher, *memAuditStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := NewRegistry()
	for _, tool := range tools {
		reg.Register(tool)
	}
	checker := permission.NewChecker(permission.Config{
		Roles: map[string]permission.Role{
			"analyst": {Name: "analyst", Capabilities: []string{"Sales Invoice:read"}},
		},
		SubjectRoles: map[string]string{"alice": "analyst"},
	}, logger)
	store := &memAuditStore{}
	recorder := audit.NewRecorder(store, logger)
	return NewDispatcher(reg, checker, recorder, logger), store
}

func okTool(name, resource string) *stubTool {
	return &stubTool{
		name:     name,
		resource: resource,
		execute: func(_ context.Context, args map[string]any, _ Invocation) (string, error) {
			return fmt.Sprintf("ran with %d args", len(args)), nil
		},
	}
}

func TestExecute_Success(t *testing.T) {
	d, store := testDispatcher(t, okTool("get_revenue", "Sales Invoice"))

	inv := Invocation{SessionID: "sess-1", Subject: "alice"}
	result, status := d.Execute(context.Background(), "get_revenue", map[string]any{"from_date": "2025-01-01"}, "audit-1", inv)

	if status != StatusSuccess {
		t.Fatalf("status = %s, result = %q", status, result)
	}
	if result != "ran with 1 args" {
		t.Errorf("result = %q", result)
	}
	if len(store.toolCalls) != 1 {
		t.Fatalf("tool calls recorded = %d", len(store.toolCalls))
	}
	rec := store.toolCalls[0]
	if rec.AuditID != "audit-1" || rec.Status != "success" || rec.ToolName != "get_revenue" {
		t.Errorf("record = %+v", rec)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	d, store := testDispatcher(t)

	result, status := d.Execute(context.Background(), "nope", nil, "", Invocation{Subject: "alice"})
	if status != StatusError {
		t.Fatalf("status = %s", status)
	}
	if result != "Unknown tool: nope" {
		t.Errorf("result = %q", result)
	}
	if len(store.toolCalls) != 1 || store.toolCalls[0].Status != "error" {
		t.Error("unknown tool call should still be audited")
	}
}

func TestExecute_PermissionDenied(t *testing.T) {
	d, store := testDispatcher(t, okTool("get_ledger", "GL Entry"))

	result, status := d.Execute(context.Background(), "get_ledger", nil, "", Invocation{Subject: "alice"})
	if status != StatusPermissionDenied {
		t.Fatalf("status = %s, result = %q", status, result)
	}
	if !strings.Contains(result, "Permission denied") {
		t.Errorf("result = %q", result)
	}
	if store.toolCalls[0].Status != "permission_denied" {
		t.Errorf("audited status = %s", store.toolCalls[0].Status)
	}
}

func TestExecute_ToolError(t *testing.T) {
	failing := &stubTool{
		name: "get_revenue",
		execute: func(context.Context, map[string]any, Invocation) (string, error) {
			return "", errors.New("warehouse unreachable")
		},
	}
	d, _ := testDispatcher(t, failing)

	result, status := d.Execute(context.Background(), "get_revenue", nil, "", Invocation{Subject: "alice"})
	if status != StatusError {
		t.Fatalf("status = %s", status)
	}
	if !strings.Contains(result, "warehouse unreachable") {
		t.Errorf("result = %q", result)
	}
}

func TestExecute_ScopeDenialFromTool(t *testing.T) {
	scoped := &stubTool{
		name: "get_revenue",
		execute: func(context.Context, map[string]any, Invocation) (string, error) {
			return "", fmt.Errorf("%w: no access to company Globex", permission.ErrDenied)
		},
	}
	d, store := testDispatcher(t, scoped)

	_, status := d.Execute(context.Background(), "get_revenue", nil, "", Invocation{Subject: "alice"})
	if status != StatusPermissionDenied {
		t.Fatalf("status = %s", status)
	}
	if store.toolCalls[0].Status != "permission_denied" {
		t.Errorf("audited status = %s", store.toolCalls[0].Status)
	}
}

func TestExecute_RedactsAuditedArguments(t *testing.T) {
	d, store := testDispatcher(t, okTool("get_revenue", ""))

	d.Execute(context.Background(), "get_revenue", map[string]any{
		"api_key": "sk-123",
		"company": "Acme",
	}, "", Invocation{Subject: "alice"})

	args := store.toolCalls[0].Arguments
	if args["api_key"] != "[REDACTED]" {
		t.Errorf("api_key = %v", args["api_key"])
	}
	if args["company"] != "Acme" {
		t.Errorf("company = %v", args["company"])
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	reg := NewRegistry()
	reg.Register(okTool("dup", ""))
	reg.Register(okTool("dup", ""))
}

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := TruncateOutput(long, 50)
	if len(got) != 50 {
		t.Errorf("len = %d", len(got))
	}
	if !strings.HasSuffix(got, "[output truncated]") {
		t.Errorf("missing notice: %q", got[30:])
	}
	if TruncateOutput("short", 50) != "short" {
		t.Error("short output altered")
	}
}
