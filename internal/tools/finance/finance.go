// Package finance implements the specialized financial data tools. Every
// tool enforces company scope before touching the warehouse; the
// dispatcher has already checked the resource capability.
package finance

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
	reportMaxRows = 30
	// maxReportChars caps rendered report text before it goes back to
	// the model.
	maxReportChars = 8000

	listInvoicesDefault = 10
	listInvoicesMax     = 50
)

// financialReports are the statements get_financial_report accepts.
var financialReports = []string{"Profit and Loss Statement", "Balance Sheet", "Cash Flow"}

// deps are shared by all finance tools.
type deps struct {
	executor report.Executor
	checker  *permission.Checker
	logger   *slog.Logger
}

// Register adds the finance tools to the registry.
func Register(reg *tools.Registry, executor report.Executor, checker *permission.Checker, logger *slog.Logger) {
	d := &deps{executor: executor, checker: checker, logger: logger}
	reg.Register(&revenueTool{d})
	reg.Register(&expensesTool{d})
	reg.Register(&financialReportTool{d})
	reg.Register(&profitAndLossTool{d})
	reg.Register(&balanceSheetTool{d})
	reg.Register(&listInvoicesTool{d})
}

// resolveCompany picks the explicit company argument or falls back to the
// session's company context, then enforces scope.
func (d *deps) resolveCompany(ctx context.Context, args map[string]any, inv tools.Invocation) (string, error) {
	company, _ := args["company"].(string)
	if company == "" {
		company = inv.CompanyContext
	}
	if company == "" {
		return "", nil
	}
	if err := d.checker.HasScopeAccess(ctx, inv.Subject, company); err != nil {
		return "", err
	}
	return company, nil
}

func dateArgs(args map[string]any, keys ...string) (map[string]string, error) {
	dates := make(map[string]string, len(keys))
	for _, key := range keys {
		v, _ := args[key].(string)
		if v == "" {
			return nil, fmt.Errorf("%s is required (YYYY-MM-DD)", key)
		}
		if !sanitize.ValidDate(v) {
			return nil, fmt.Errorf("%s must be in YYYY-MM-DD format, got %q", key, v)
		}
		dates[key] = v
	}
	return dates, nil
}

func dateProperty(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// --- get_revenue ---

type revenueTool struct{ *deps }

func (t *revenueTool) Name() string { return "get_revenue" }

func (t *revenueTool) Description() string {
	return "Get total revenue for a company in a date range. Returns the sum of all income from submitted sales invoices."
}

func (t *revenueTool) Resource() string { return "Sales Invoice" }

func (t *revenueTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"company":   map[string]any{"type": "string", "description": "Company name (optional)"},
			"from_date": dateProperty("Start date in YYYY-MM-DD format"),
			"to_date":   dateProperty("End date in YYYY-MM-DD format"),
		},
		"required": []string{"from_date", "to_date"},
	}
}

func (t *revenueTool) Execute(ctx context.Context, args map[string]any, inv tools.Invocation) (string, error) {
	dates, err := dateArgs(args, "from_date", "to_date")
	if err != nil {
		return "", err
	}
	company, err := t.resolveCompany(ctx, args, inv)
	if err != nil {
		return "", err
	}

	filters := map[string]any{"from_date": dates["from_date"], "to_date": dates["to_date"]}
	if company != "" {
		filters["company"] = company
	}
	res, err := t.executor.Run(ctx, "Sales Register", filters, inv.Subject)
	if err != nil {
		return "", err
	}
	if len(res.Rows) == 0 {
		return fmt.Sprintf("No revenue data found for the period %s to %s.", dates["from_date"], dates["to_date"]), nil
	}

	var total float64
	for _, row := range res.Rows {
		total += asFloat(row["grand_total"])
	}
	label := company
	if label == "" {
		label = "All companies"
	}
	return fmt.Sprintf(
		"Total Revenue from %s to %s:\n- Amount: %s\n- Number of invoices: %d\n- Company: %s",
		dates["from_date"], dates["to_date"],
		format.Currency(total, "", "$"),
		len(res.Rows),
		label,
	), nil
}

// --- get_expenses ---

type expensesTool struct{ *deps }

func (t *expensesTool) Name() string { return "get_expenses" }

func (t *expensesTool) Description() string {
	return "Get total expenses for a company in a date range."
}

func (t *expensesTool) Resource() string { return "GL Entry" }

func (t *expensesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"company":   map[string]any{"type": "string", "description": "Company name (optional)"},
			"from_date": dateProperty("Start date in YYYY-MM-DD format"),
			"to_date":   dateProperty("End date in YYYY-MM-DD format"),
		},
		"required": []string{"from_date", "to_date"},
	}
}

func (t *expensesTool) Execute(ctx context.Context, args map[string]any, inv tools.Invocation) (string, error) {
	dates, err := dateArgs(args, "from_date", "to_date")
	if err != nil {
		return "", err
	}
	company, err := t.resolveCompany(ctx, args, inv)
	if err != nil {
		return "", err
	}

	filters := map[string]any{"from_date": dates["from_date"], "to_date": dates["to_date"]}
	if company != "" {
		filters["company"] = company
	}
	res, err := t.executor.Run(ctx, "Profit and Loss Statement", filters, inv.Subject)
	if err != nil {
		return "", err
	}

	// P&L amounts are credit minus debit, so expense rows come back
	// negative.
	var total float64
	for _, row := range res.Rows {
		if rootType, _ := row["root_type"].(string); rootType == "Expense" {
			total -= asFloat(row["amount"])
		}
	}
	if total == 0 {
		return fmt.Sprintf("No expense data found for the period %s to %s.", dates["from_date"], dates["to_date"]), nil
	}
	label := company
	if label == "" {
		label = "All companies"
	}
	return fmt.Sprintf(
		"Total Expenses from %s to %s:\n- Amount: %s\n- Company: %s",
		dates["from_date"], dates["to_date"],
		format.Currency(total, "", "$"),
		label,
	), nil
}

// --- get_financial_report ---

type financialReportTool struct{ *deps }

func (t *financialReportTool) Name() string { return "get_financial_report" }

func (t *financialReportTool) Description() string {
	return "Retrieve financial data from standard reports like Profit and Loss Statement, Balance Sheet, or Cash Flow. Respects company permissions."
}

func (t *financialReportTool) Resource() string { return "GL Entry" }

func (t *financialReportTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"report_name": map[string]any{
				"type":        "string",
				"enum":        financialReports,
				"description": "Name of the financial report to execute",
			},
			"company":   map[string]any{"type": "string", "description": "Company name (optional, defaults to the session's company)"},
			"from_date": dateProperty("Start date in YYYY-MM-DD format"),
			"to_date":   dateProperty("End date in YYYY-MM-DD format"),
		},
		"required": []string{"report_name", "from_date", "to_date"},
	}
}

func (t *financialReportTool) Execute(ctx context.Context, args map[string]any, inv tools.Invocation) (string, error) {
	name, _ := args["report_name"].(string)
	if !isFinancialReport(name) {
		return "", fmt.Errorf("report_name must be one of: %s", strings.Join(financialReports, ", "))
	}
	return t.runStatement(ctx, name, args, inv)
}

func (d *deps) runStatement(ctx context.Context, name string, args map[string]any, inv tools.Invocation) (string, error) {
	dates, err := dateArgs(args, "from_date", "to_date")
	if err != nil {
		return "", err
	}
	company, err := d.resolveCompany(ctx, args, inv)
	if err != nil {
		return "", err
	}
	if company == "" {
		return "Error: No company specified and the session has no company context.", nil
	}

	filters := map[string]any{
		"company":   company,
		"from_date": dates["from_date"],
		"to_date":   dates["to_date"],
	}
	res, err := d.executor.Run(ctx, name, filters, inv.Subject)
	if err != nil {
		return "", err
	}
	return format.Truncate(format.Report(res, reportMaxRows, true), maxReportChars), nil
}

func isFinancialReport(name string) bool {
	for _, r := range financialReports {
		if r == name {
			return true
		}
	}
	return false
}

// --- get_profit_and_loss ---

type profitAndLossTool struct{ *deps }

func (t *profitAndLossTool) Name() string { return "get_profit_and_loss" }

func (t *profitAndLossTool) Description() string {
	return "Get the profit and loss summary for a date range."
}

func (t *profitAndLossTool) Resource() string { return "GL Entry" }

func (t *profitAndLossTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"company":   map[string]any{"type": "string", "description": "Company name (optional)"},
			"from_date": dateProperty("Start date in YYYY-MM-DD format"),
			"to_date":   dateProperty("End date in YYYY-MM-DD format"),
		},
		"required": []string{"from_date", "to_date"},
	}
}

func (t *profitAndLossTool) Execute(ctx context.Context, args map[string]any, inv tools.Invocation) (string, error) {
	return t.runStatement(ctx, "Profit and Loss Statement", args, inv)
}

// --- get_balance_sheet ---

type balanceSheetTool struct{ *deps }

func (t *balanceSheetTool) Name() string { return "get_balance_sheet" }

func (t *balanceSheetTool) Description() string {
	return "Get the balance sheet as of a specific date."
}

func (t *balanceSheetTool) Resource() string { return "GL Entry" }

func (t *balanceSheetTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"company": map[string]any{"type": "string", "description": "Company name (optional)"},
			"to_date": dateProperty("As-of date in YYYY-MM-DD format"),
		},
		"required": []string{"to_date"},
	}
}

func (t *balanceSheetTool) Execute(ctx context.Context, args map[string]any, inv tools.Invocation) (string, error) {
	dates, err := dateArgs(args, "to_date")
	if err != nil {
		return "", err
	}
	company, err := t.resolveCompany(ctx, args, inv)
	if err != nil {
		return "", err
	}
	if company == "" {
		return "Error: No company specified and the session has no company context.", nil
	}

	res, err := t.executor.Run(ctx, "Balance Sheet", map[string]any{
		"company": company,
		"to_date": dates["to_date"],
	}, inv.Subject)
	if err != nil {
		return "", err
	}
	return format.Truncate(format.Report(res, reportMaxRows, true), maxReportChars), nil
}

// --- list_recent_invoices ---

type listInvoicesTool struct{ *deps }

func (t *listInvoicesTool) Name() string { return "list_recent_invoices" }

func (t *listInvoicesTool) Description() string {
	return "List recent submitted sales invoices in a date range, newest last, with date, customer and amount."
}

func (t *listInvoicesTool) Resource() string { return "Sales Invoice" }

func (t *listInvoicesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"company":   map[string]any{"type": "string", "description": "Company name (optional)"},
			"from_date": dateProperty("Start date in YYYY-MM-DD format"),
			"to_date":   dateProperty("End date in YYYY-MM-DD format"),
			"limit":     map[string]any{"type": "integer", "description": "Maximum invoices to list (default 10, max 50)"},
		},
		"required": []string{"from_date", "to_date"},
	}
}

func (t *listInvoicesTool) Execute(ctx context.Context, args map[string]any, inv tools.Invocation) (string, error) {
	dates, err := dateArgs(args, "from_date", "to_date")
	if err != nil {
		return "", err
	}
	company, err := t.resolveCompany(ctx, args, inv)
	if err != nil {
		return "", err
	}

	limit := listInvoicesDefault
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	if limit > listInvoicesMax {
		limit = listInvoicesMax
	}

	filters := map[string]any{"from_date": dates["from_date"], "to_date": dates["to_date"]}
	if company != "" {
		filters["company"] = company
	}
	res, err := t.executor.Run(ctx, "Sales Register", filters, inv.Subject)
	if err != nil {
		return "", err
	}
	if len(res.Rows) == 0 {
		return fmt.Sprintf("No invoices found for the period %s to %s.", dates["from_date"], dates["to_date"]), nil
	}
	return format.List(res.Rows, []string{"name", "posting_date", "customer", "grand_total"}, limit), nil
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}
