package format

import (
	"strings"
	"testing"

	"github.com/finsight-ai/finsight/internal/report"
)

func sampleResult() *report.Result {
	return &report.Result{
		Columns: []report.Column{
			{Fieldname: "customer", Label: "Customer", Fieldtype: "Data"},
			{Fieldname: "grand_total", Label: "Grand Total", Fieldtype: "Currency"},
		},
		Rows: []map[string]any{
			{"customer": "Acme Corp", "grand_total": 1500.0},
			{"customer": "Globex", "grand_total": 2500.5},
		},
	}
}

func TestReport_Table(t *testing.T) {
	out := Report(sampleResult(), 50, false)

	if !strings.Contains(out, "| Customer | Grand Total |") {
		t.Errorf("missing header row: %q", out)
	}
	if !strings.Contains(out, "|---|---|") {
		t.Errorf("missing separator row: %q", out)
	}
	if !strings.Contains(out, "| Acme Corp | 1,500 |") {
		t.Errorf("missing data row: %q", out)
	}
	if !strings.Contains(out, "| Globex | 2,500.50 |") {
		t.Errorf("missing decimal row: %q", out)
	}
	if strings.Contains(out, "Totals") {
		t.Errorf("totals rendered when disabled: %q", out)
	}
}

func TestReport_Totals(t *testing.T) {
	out := Report(sampleResult(), 50, true)

	if !strings.Contains(out, "**Totals:**") {
		t.Fatalf("missing totals block: %q", out)
	}
	if !strings.Contains(out, "- Grand Total: 4,000.50") {
		t.Errorf("wrong total: %q", out)
	}
	if strings.Contains(out, "- Customer:") {
		t.Errorf("non-numeric column totaled: %q", out)
	}
}

func TestReport_ZeroTotalOmitted(t *testing.T) {
	res := &report.Result{
		Columns: []report.Column{
			{Fieldname: "net", Label: "Net", Fieldtype: "Currency"},
		},
		Rows: []map[string]any{
			{"net": 100.0},
			{"net": -100.0},
		},
	}
	out := Report(res, 50, true)
	if strings.Contains(out, "Totals") {
		t.Errorf("zero total should be omitted: %q", out)
	}
}

func TestReport_RowLimit(t *testing.T) {
	res := sampleResult()
	for i := 0; i < 10; i++ {
		res.Rows = append(res.Rows, map[string]any{"customer": "X", "grand_total": 1.0})
	}
	out := Report(res, 5, false)

	if !strings.HasPrefix(out, "Showing first 5 of 12 total rows.") {
		t.Errorf("missing truncation notice: %q", out)
	}
	if got := strings.Count(out, "\n| "); got != 6 {
		t.Errorf("expected header plus 5 data rows, counted %d", got)
	}
}

func TestReport_Empty(t *testing.T) {
	if got := Report(nil, 50, true); got != "No data available." {
		t.Errorf("nil result: %q", got)
	}
	empty := &report.Result{Columns: sampleResult().Columns}
	if got := Report(empty, 50, true); got != "The report returned no results for the given criteria." {
		t.Errorf("empty rows: %q", got)
	}
}

func TestReport_Summary(t *testing.T) {
	res := sampleResult()
	res.Summary = []report.SummaryItem{{Label: "Net Profit", Value: 12345.0}}
	out := Report(res, 50, false)

	if !strings.Contains(out, "**Summary:**") || !strings.Contains(out, "- Net Profit: 12,345") {
		t.Errorf("missing summary: %q", out)
	}
}

func TestList(t *testing.T) {
	data := []map[string]any{
		{"customer_name": "Acme", "outstanding": 99.5},
		{"customer_name": "Globex", "outstanding": 0.0},
	}
	out := List(data, []string{"customer_name", "outstanding"}, 20)

	if !strings.Contains(out, "Customer Name: Acme") {
		t.Errorf("missing titled field: %q", out)
	}
	if !strings.Contains(out, "Outstanding: 99.50") {
		t.Errorf("missing value: %q", out)
	}

	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[0], "1. ") {
		t.Errorf("first item not numbered: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2. ") {
		t.Errorf("second item not numbered: %q", lines[1])
	}
}

func TestList_LimitAndEmpty(t *testing.T) {
	if got := List(nil, nil, 20); got != "No items found." {
		t.Errorf("empty list: %q", got)
	}

	var data []map[string]any
	for i := 0; i < 25; i++ {
		data = append(data, map[string]any{"name": "item"})
	}
	out := List(data, []string{"name"}, 20)
	if !strings.HasPrefix(out, "Showing 20 of 25 total items:") {
		t.Errorf("missing limit notice: %q", out)
	}
}

func TestValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "-"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
		{float64(5000), "5,000"},
		{1234.5, "1,234.50"},
		{1234.567, "1,234.57"},
		{"hello", "hello"},
		{[]any{"a", "b"}, `["a","b"]`},
		{map[string]any{"k": 1.0}, `{"k":1}`},
	}
	for _, tt := range tests {
		if got := Value(tt.in); got != tt.want {
			t.Errorf("Value(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCurrency(t *testing.T) {
	if got := Currency(1234.5, "Revenue", "$"); got != "Revenue: $1,234.50" {
		t.Errorf("labeled: %q", got)
	}
	if got := Currency(99, "", ""); got != "$99.00" {
		t.Errorf("bare: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	short := "brief"
	if got := Truncate(short, 100); got != short {
		t.Errorf("short text altered: %q", got)
	}

	long := strings.Repeat("x", 300)
	got := Truncate(long, 200)
	if len(got) >= 300 {
		t.Errorf("not truncated, len=%d", len(got))
	}
	if !strings.HasSuffix(got, "[... truncated for brevity]") {
		t.Errorf("missing marker: %q", got)
	}
}

func TestTruncate_TinyLimit(t *testing.T) {
	got := Truncate("this exceeds a tiny limit", 10)
	if got != "\n\n[... truncated for brevity]" {
		t.Errorf("tiny limit output: %q", got)
	}
}
