package chart

import (
	"testing"
)

func salesRows() []map[string]any {
	return []map[string]any{
		{"customer": "Acme", "total": 400.0},
		{"customer": "Globex", "total": 100.0},
		{"customer": "Initech", "total": 300.0},
		{"customer": "Acme", "total": 200.0},
	}
}

func TestBuild(t *testing.T) {
	rows := []map[string]any{
		{"month": "Jan", "revenue": 100.0},
		{"month": "Feb", "revenue": "bad"},
		{"month": "Mar", "revenue": 300.0},
		{"month": nil, "revenue": 400.0},
	}
	desc := Build(rows, "month", "revenue", TypeBar, "", 0)
	if desc == nil {
		t.Fatal("expected chart")
	}
	if got := len(desc.Labels); got != 2 {
		t.Fatalf("expected 2 clean points, got %d", got)
	}
	if desc.Labels[0] != "Jan" || desc.Values[1] != 300 {
		t.Errorf("wrong series: %v %v", desc.Labels, desc.Values)
	}
	if desc.Title != "Revenue by Month" {
		t.Errorf("wrong default title: %q", desc.Title)
	}
	if len(desc.Colors) != 2 || desc.Colors[0] != "#2491eb" {
		t.Errorf("wrong palette: %v", desc.Colors)
	}
}

func TestBuild_TooFewPoints(t *testing.T) {
	rows := []map[string]any{{"month": "Jan", "revenue": 100.0}}
	if desc := Build(rows, "month", "revenue", TypeBar, "", 0); desc != nil {
		t.Errorf("expected nil for single point, got %+v", desc)
	}
	if desc := Build(nil, "month", "revenue", TypeBar, "", 0); desc != nil {
		t.Errorf("expected nil for no data, got %+v", desc)
	}
}

func TestAggregateBar(t *testing.T) {
	desc := AggregateBar(salesRows(), "customer", "total", 10)
	if desc == nil {
		t.Fatal("expected chart")
	}
	if desc.Type != TypeBar {
		t.Errorf("type = %q", desc.Type)
	}
	wantLabels := []string{"Acme", "Initech", "Globex"}
	wantValues := []float64{600, 300, 100}
	for i := range wantLabels {
		if desc.Labels[i] != wantLabels[i] || desc.Values[i] != wantValues[i] {
			t.Errorf("point %d = %s/%v, want %s/%v", i, desc.Labels[i], desc.Values[i], wantLabels[i], wantValues[i])
		}
	}
	if desc.XAxisLabel != "Customer" || desc.YAxisLabel != "Total" {
		t.Errorf("axis labels = %q / %q", desc.XAxisLabel, desc.YAxisLabel)
	}
}

func TestAggregateBar_Limit(t *testing.T) {
	desc := AggregateBar(salesRows(), "customer", "total", 2)
	if desc == nil {
		t.Fatal("expected chart")
	}
	if len(desc.Labels) != 2 || desc.Labels[0] != "Acme" || desc.Labels[1] != "Initech" {
		t.Errorf("top 2 = %v", desc.Labels)
	}
}

func TestAggregateLine(t *testing.T) {
	rows := []map[string]any{
		{"period": "2025-01", "net": 10.0},
		{"period": "2025-02", "net": 20.0},
		{"period": "2025-03", "net": 15.0},
	}
	desc := AggregateLine(rows, "period", "net", 0)
	if desc == nil {
		t.Fatal("expected chart")
	}
	if desc.Type != TypeLine {
		t.Errorf("type = %q", desc.Type)
	}
	if desc.Labels[0] != "2025-01" || desc.Labels[2] != "2025-03" {
		t.Errorf("row order not preserved: %v", desc.Labels)
	}
	if len(desc.Colors) != 1 {
		t.Errorf("line chart should use one color, got %v", desc.Colors)
	}
	if desc.Title != "Net Over Time" {
		t.Errorf("title = %q", desc.Title)
	}
}

func TestDistribution(t *testing.T) {
	rows := []map[string]any{
		{"category": "Rent", "amount": 75.0},
		{"category": "Travel", "amount": 25.0},
	}
	desc := Distribution(rows, "category", "amount", 0)
	if desc == nil {
		t.Fatal("expected chart")
	}
	if desc.Type != TypePie {
		t.Errorf("type = %q", desc.Type)
	}
	if desc.Values[0] != 75 || desc.Values[1] != 25 {
		t.Errorf("percentages = %v", desc.Values)
	}
	if desc.Description != "Total: 100" {
		t.Errorf("description = %q", desc.Description)
	}
}

func TestDistribution_OrdersByValueDescending(t *testing.T) {
	rows := []map[string]any{
		{"category": "Travel", "amount": 25.0},
		{"category": "Salaries", "amount": 60.0},
		{"category": "Rent", "amount": 15.0},
	}
	desc := Distribution(rows, "category", "amount", 0)
	if desc == nil {
		t.Fatal("expected chart")
	}
	wantLabels := []string{"Salaries", "Travel", "Rent"}
	for i, want := range wantLabels {
		if desc.Labels[i] != want {
			t.Fatalf("labels = %v, want %v", desc.Labels, wantLabels)
		}
	}
	if desc.Values[0] != 60 || desc.Values[1] != 25 || desc.Values[2] != 15 {
		t.Errorf("percentages = %v", desc.Values)
	}
}

func TestDistribution_Rounding(t *testing.T) {
	rows := []map[string]any{
		{"category": "A", "amount": 1.0},
		{"category": "B", "amount": 2.0},
	}
	desc := Distribution(rows, "category", "amount", 0)
	if desc == nil {
		t.Fatal("expected chart")
	}
	if desc.Values[0] != 66.67 || desc.Values[1] != 33.33 {
		t.Errorf("percentages = %v", desc.Values)
	}
}

func TestDistribution_ZeroTotal(t *testing.T) {
	rows := []map[string]any{
		{"category": "A", "amount": 0.0},
		{"category": "B", "amount": 0.0},
	}
	if desc := Distribution(rows, "category", "amount", 0); desc != nil {
		t.Errorf("expected nil for zero total, got %+v", desc)
	}
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"show me a pie chart of expenses", TypePie},
		{"monthly sales trend", TypeLine},
		{"give me a bar chart of the trend", TypeBar},
		{"revenue growth over time", TypeLine},
		{"expense distribution by share", TypePie},
		{"top customers by ranking", TypeBar},
		{"what is our revenue", TypeBar},
		{"comparison of growth over time", TypeLine},
	}
	for _, tt := range tests {
		if got := DetectType(tt.query); got != tt.want {
			t.Errorf("DetectType(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestExtract(t *testing.T) {
	text := `Revenue grew steadily.

{CHART_DATA}
{
  "chart_type": "line",
  "title": "Monthly Revenue",
  "labels": ["Jan", "Feb"],
  "values": [100, 200]
}
{/CHART_DATA}`

	desc := Extract(text)
	if desc == nil {
		t.Fatal("expected chart")
	}
	if desc.Type != TypeLine || desc.Title != "Monthly Revenue" {
		t.Errorf("parsed %+v", desc)
	}
	if len(desc.Values) != 2 || desc.Values[1] != 200 {
		t.Errorf("values = %v", desc.Values)
	}
	if len(desc.Colors) != 2 {
		t.Errorf("palette not applied: %v", desc.Colors)
	}

	clean := Strip(text)
	if clean != "Revenue grew steadily." {
		t.Errorf("Strip = %q", clean)
	}
}

func TestExtract_Invalid(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no markers", "plain text"},
		{"unbalanced", "{CHART_DATA}\n{\"chart_type\": \"bar\"}"},
		{"malformed json", "{CHART_DATA}{not json}{/CHART_DATA}"},
		{"missing values", `{CHART_DATA}{"chart_type": "bar", "labels": ["a"]}{/CHART_DATA}`},
		{"unknown type", `{CHART_DATA}{"chart_type": "radar", "labels": ["a"], "values": [1]}{/CHART_DATA}`},
		{"mismatched lengths", `{CHART_DATA}{"chart_type": "bar", "labels": ["a", "b"], "values": [1]}{/CHART_DATA}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if desc := Extract(tt.text); desc != nil {
				t.Errorf("expected nil, got %+v", desc)
			}
		})
	}
}

func TestStrip_Unbalanced(t *testing.T) {
	text := "answer {CHART_DATA} dangling"
	if got := Strip(text); got != text {
		t.Errorf("unbalanced marker altered: %q", got)
	}
}
