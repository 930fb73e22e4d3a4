package reports

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/finsight-ai/finsight/internal/permission"
	"github.com/finsight-ai/finsight/internal/report"
	"github.com/finsight-ai/finsight/internal/tools"
)

type stubExecutor struct {
	lastReport  string
	lastFilters map[string]any
	result      *report.Result
	err         error
	catalog     []report.Info
}

func (s *stubExecutor) Run(_ context.Context, reportName string, filters map[string]any, _ string) (*report.Result, error) {
	s.lastReport = reportName
	s.lastFilters = filters
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubExecutor) List(module string) []report.Info {
	if module == "" {
		return s.catalog
	}
	var out []report.Info
	for _, info := range s.catalog {
		if info.Module == module {
			out = append(out, info)
		}
	}
	return out
}

func testChecker() *permission.Checker {
	return permission.NewChecker(permission.Config{
		Roles: map[string]permission.Role{
			"analyst": {Name: "analyst", Capabilities: []string{"Report:read"}},
		},
		SubjectRoles: map[string]string{"alice": "analyst", "bob": "analyst"},
		SuperUser:    "Administrator",
		CompanyScopes: map[string][]string{
			"bob": {"Globex"},
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func setup(t *testing.T, exec *stubExecutor) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	Register(reg, exec, testChecker(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return reg
}

func TestExecuteReport_Runs(t *testing.T) {
	exec := &stubExecutor{result: &report.Result{
		Columns: []report.Column{
			{Fieldname: "customer", Label: "Customer", Fieldtype: "Data"},
			{Fieldname: "outstanding", Label: "Outstanding", Fieldtype: "Currency"},
		},
		Rows: []map[string]any{
			{"customer": "Initech", "outstanding": 420.0},
		},
	}}
	reg := setup(t, exec)

	out, err := reg.Get("execute_report").Execute(context.Background(), map[string]any{
		"report_name": "Accounts Receivable",
		"filters":     map[string]any{"company": "Globex"},
	}, tools.Invocation{Subject: "bob"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.lastReport != "Accounts Receivable" {
		t.Fatalf("ran report %q", exec.lastReport)
	}
	if !strings.Contains(out, "| Customer | Outstanding |") {
		t.Fatalf("missing table header:\n%s", out)
	}
}

func TestExecuteReport_ShortcutName(t *testing.T) {
	exec := &stubExecutor{result: &report.Result{}}
	reg := setup(t, exec)

	_, err := reg.Get("execute_report").Execute(context.Background(), map[string]any{
		"report_name": "general ledger",
	}, tools.Invocation{Subject: "alice"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.lastReport != "General Ledger" {
		t.Fatalf("ran report %q", exec.lastReport)
	}
}

func TestExecuteReport_InvalidName(t *testing.T) {
	reg := setup(t, &stubExecutor{result: &report.Result{}})

	out, err := reg.Get("execute_report").Execute(context.Background(), map[string]any{
		"report_name": "../etc/passwd",
	}, tools.Invocation{Subject: "alice"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "Error: Report '../etc/passwd' not found or invalid." {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestExecuteReport_UnknownReport(t *testing.T) {
	reg := setup(t, &stubExecutor{err: report.ErrUnknownReport})

	out, err := reg.Get("execute_report").Execute(context.Background(), map[string]any{
		"report_name": "Payroll Summary",
	}, tools.Invocation{Subject: "alice"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "Error: Report 'Payroll Summary' not found or invalid." {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestExecuteReport_CompanyScopeDenied(t *testing.T) {
	reg := setup(t, &stubExecutor{result: &report.Result{}})

	_, err := reg.Get("execute_report").Execute(context.Background(), map[string]any{
		"report_name": "Sales Register",
		"filters":     map[string]any{"company": "Acme Corp"},
	}, tools.Invocation{Subject: "bob"})
	if !errors.Is(err, permission.ErrDenied) {
		t.Fatalf("expected permission.ErrDenied, got %v", err)
	}
}

func TestExecuteReport_SessionCompanyDefault(t *testing.T) {
	exec := &stubExecutor{result: &report.Result{}}
	reg := setup(t, exec)

	_, err := reg.Get("execute_report").Execute(context.Background(), map[string]any{
		"report_name": "Sales Register",
	}, tools.Invocation{Subject: "bob", CompanyContext: "Globex"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.lastFilters["company"] != "Globex" {
		t.Fatalf("filters = %v", exec.lastFilters)
	}
}

func TestExecuteReport_DropsNilFilters(t *testing.T) {
	exec := &stubExecutor{result: &report.Result{}}
	reg := setup(t, exec)

	_, err := reg.Get("execute_report").Execute(context.Background(), map[string]any{
		"report_name": "General Ledger",
		"filters":     map[string]any{"account": nil, "from_date": "2026-01-01"},
	}, tools.Invocation{Subject: "alice"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := exec.lastFilters["account"]; ok {
		t.Fatalf("nil filter retained: %v", exec.lastFilters)
	}
	if exec.lastFilters["from_date"] != "2026-01-01" {
		t.Fatalf("filters = %v", exec.lastFilters)
	}
}

func TestListReports_GroupsByModule(t *testing.T) {
	exec := &stubExecutor{catalog: []report.Info{
		{Name: "Balance Sheet", Module: "Accounts", Description: "Assets and liabilities as of a date"},
		{Name: "General Ledger", Module: "Accounts"},
		{Name: "Sales Register", Module: "Selling"},
	}}
	reg := setup(t, exec)

	out, err := reg.Get("list_available_reports").Execute(context.Background(), nil, tools.Invocation{Subject: "alice"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out, "**Available Reports:**") {
		t.Fatalf("missing heading:\n%s", out)
	}
	accountsIdx := strings.Index(out, "**Accounts:**")
	sellingIdx := strings.Index(out, "**Selling:**")
	if accountsIdx < 0 || sellingIdx < 0 || accountsIdx > sellingIdx {
		t.Fatalf("module grouping wrong:\n%s", out)
	}
	if !strings.Contains(out, "- Balance Sheet (Assets and liabilities as of a date)") {
		t.Fatalf("missing described entry:\n%s", out)
	}
	if !strings.Contains(out, "- General Ledger\n") {
		t.Fatalf("missing plain entry:\n%s", out)
	}
}

func TestListReports_ModuleFilter(t *testing.T) {
	exec := &stubExecutor{catalog: []report.Info{
		{Name: "Balance Sheet", Module: "Accounts"},
		{Name: "Sales Register", Module: "Selling"},
	}}
	reg := setup(t, exec)

	out, err := reg.Get("list_available_reports").Execute(context.Background(), map[string]any{
		"module": "Selling",
	}, tools.Invocation{Subject: "alice"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Contains(out, "Balance Sheet") {
		t.Fatalf("unexpected entry:\n%s", out)
	}
	if !strings.Contains(out, "- Sales Register") {
		t.Fatalf("missing entry:\n%s", out)
	}
}

func TestListReports_Empty(t *testing.T) {
	reg := setup(t, &stubExecutor{})

	out, err := reg.Get("list_available_reports").Execute(context.Background(), nil, tools.Invocation{Subject: "alice"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "No reports available for your access level." {
		t.Fatalf("unexpected output %q", out)
	}
}
