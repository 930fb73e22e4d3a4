// Package reports exposes the generic report tools: run any catalog
// report by name and discover which reports exist.
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finsight-ai/finsight/internal/format"
	"github.com/finsight-ai/finsight/internal/permission"
	"github.com/finsight-ai/finsight/internal/report"
	"github.com/finsight-ai/finsight/internal/sanitize"
	"github.com/finsight-ai/finsight/internal/tools"
)

const (
	reportMaxRows = 50
	// maxReportChars caps rendered report text before it goes back to
	// the model.
	maxReportChars = 8000
)

// shortcuts maps informal report references to catalog names.
var shortcuts = map[string]string{
	"accounts_receivable": "Accounts Receivable",
	"general_ledger":      "General Ledger",
	"sales_register":      "Sales Register",
	"profit_and_loss":     "Profit and Loss Statement",
	"balance_sheet":       "Balance Sheet",
	"cash_flow":           "Cash Flow",
}

// CanonicalName resolves a shortcut like "general ledger" to its catalog
// name, or returns the input unchanged when no shortcut matches.
func CanonicalName(name string) string {
	if full, ok := shortcuts[strings.ReplaceAll(strings.ToLower(name), " ", "_")]; ok {
		return full
	}
	return name
}

type deps struct {
	executor report.Executor
	checker  *permission.Checker
	logger   *slog.Logger
}

// Register adds the generic report tools to the registry.
func Register(reg *tools.Registry, executor report.Executor, checker *permission.Checker, logger *slog.Logger) {
	d := &deps{executor: executor, checker: checker, logger: logger}
	reg.Register(&executeTool{d})
	reg.Register(&listTool{d})
}

// --- execute_report ---

type executeTool struct{ *deps }

func (t *executeTool) Name() string { return "execute_report" }

func (t *executeTool) Description() string {
	return "Execute any standard report by name with filters. Use this for reports not covered by specialized tools like Accounts Receivable, Sales Register, General Ledger, etc."
}

func (t *executeTool) Resource() string { return "Report" }

func (t *executeTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"report_name": map[string]any{
				"type":        "string",
				"description": "Exact name of the report (e.g., 'Accounts Receivable', 'Sales Register', 'General Ledger')",
			},
			"filters": map[string]any{
				"type":        "object",
				"description": "Report filters as key-value pairs (e.g., {\"company\": \"My Company\", \"from_date\": \"2024-01-01\"})",
			},
		},
		"required": []string{"report_name"},
	}
}

func (t *executeTool) Execute(ctx context.Context, args map[string]any, inv tools.Invocation) (string, error) {
	name, _ := args["report_name"].(string)
	name = CanonicalName(name)
	if !sanitize.ValidReportName(name) {
		return fmt.Sprintf("Error: Report '%s' not found or invalid.", name), nil
	}

	rawFilters, _ := args["filters"].(map[string]any)
	filters, err := t.validateFilters(ctx, rawFilters, inv)
	if err != nil {
		return "", err
	}
	if _, ok := filters["company"]; !ok && inv.CompanyContext != "" {
		filters["company"] = inv.CompanyContext
	}

	res, err := t.executor.Run(ctx, name, filters, inv.Subject)
	if err != nil {
		if report.IsUnknown(err) {
			return fmt.Sprintf("Error: Report '%s' not found or invalid.", name), nil
		}
		return "", err
	}
	return format.Truncate(format.Report(res, reportMaxRows, true), maxReportChars), nil
}

// validateFilters drops nil values and enforces company scope when a
// company filter is present.
func (d *deps) validateFilters(ctx context.Context, raw map[string]any, inv tools.Invocation) (map[string]any, error) {
	safe := make(map[string]any, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		if strings.EqualFold(key, "company") {
			company, _ := value.(string)
			if company != "" {
				if err := d.checker.HasScopeAccess(ctx, inv.Subject, company); err != nil {
					return nil, err
				}
			}
		}
		safe[key] = value
	}
	return safe, nil
}

// --- list_available_reports ---

type listTool struct{ *deps }

func (t *listTool) Name() string { return "list_available_reports" }

func (t *listTool) Description() string {
	return "List available reports that can be executed. Use this to discover what reports are available."
}

func (t *listTool) Resource() string { return "Report" }

func (t *listTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"module": map[string]any{
				"type":        "string",
				"description": "Filter by module (e.g., 'Accounts', 'Selling')",
			},
		},
		"required": []string{},
	}
}

func (t *listTool) Execute(ctx context.Context, args map[string]any, inv tools.Invocation) (string, error) {
	module, _ := args["module"].(string)
	infos := t.executor.List(module)
	if len(infos) == 0 {
		return "No reports available for your access level.", nil
	}

	parts := []string{"**Available Reports:**\n"}
	currentModule := ""
	for _, info := range infos {
		if info.Module != currentModule {
			currentModule = info.Module
			parts = append(parts, fmt.Sprintf("\n**%s:**", currentModule))
		}
		line := "- " + info.Name
		if info.Description != "" {
			line += " (" + info.Description + ")"
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n"), nil
}
