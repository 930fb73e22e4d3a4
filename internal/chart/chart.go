// Package chart builds renderable chart descriptors from tabular data and
// recognizes the chart payloads a model embeds in its replies.
package chart

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	// MinDataPoints is the smallest series worth charting.
	MinDataPoints = 2
	// MaxDataPoints caps a series before it becomes unreadable.
	MaxDataPoints = 50
)

// Chart types.
const (
	TypeBar  = "bar"
	TypeLine = "line"
	TypePie  = "pie"
)

// DefaultColors is the standard palette, applied in order.
var DefaultColors = []string{
	"#2491eb",
	"#5e64ff",
	"#00c3b3",
	"#28c76f",
	"#ff6b6b",
	"#f9c846",
	"#743ee2",
	"#ea5455",
	"#a5a5a5",
	"#1a1a2e",
}

var typeKeywords = map[string][]string{
	TypeLine: {"trend", "over time", "growth", "progress", "evolution", "history", "months", "years", "quarterly"},
	TypeBar:  {"top", "comparison", "ranking", "by category", "by department", "by customer", "by product"},
	TypePie:  {"distribution", "breakdown", "share", "percentage", "proportion", "composition", "among"},
}

// Descriptor is a renderable chart. It is returned to API clients verbatim.
type Descriptor struct {
	Type        string    `json:"chart_type"`
	Title       string    `json:"title"`
	Labels      []string  `json:"labels"`
	Values      []float64 `json:"values"`
	XAxisLabel  string    `json:"x_axis_label,omitempty"`
	YAxisLabel  string    `json:"y_axis_label,omitempty"`
	Colors      []string  `json:"colors,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Build extracts a label/value series from rows and wraps it in a
// descriptor. Rows missing either field, or with a non-numeric value, are
// skipped. Returns nil when fewer than MinDataPoints survive.
func Build(rows []map[string]any, labelField, valueField, chartType, title string, limit int) *Descriptor {
	if limit <= 0 || limit > MaxDataPoints {
		limit = MaxDataPoints
	}

	var labels []string
	var values []float64
	for _, row := range rows {
		label, ok := row[labelField]
		if !ok || label == nil {
			continue
		}
		value, ok := toFloat(row[valueField])
		if !ok {
			continue
		}
		labels = append(labels, fmt.Sprintf("%v", label))
		values = append(values, value)
		if len(values) >= limit {
			break
		}
	}

	if len(values) < MinDataPoints {
		return nil
	}
	if title == "" {
		title = fmt.Sprintf("%s by %s", titleCase(valueField), titleCase(labelField))
	}
	return &Descriptor{
		Type:   chartType,
		Title:  title,
		Labels: labels,
		Values: values,
		Colors: palette(len(values)),
	}
}

// AggregateBar sums values per label and returns a bar chart sorted by
// value descending. Ties keep first-seen label order.
func AggregateBar(rows []map[string]any, labelField, valueField string, limit int) *Descriptor {
	if limit <= 0 || limit > MaxDataPoints {
		limit = MaxDataPoints
	}

	totals := make(map[string]float64)
	var order []string
	for _, row := range rows {
		label := "Unknown"
		if v, ok := row[labelField]; ok && v != nil {
			label = fmt.Sprintf("%v", v)
		}
		value, ok := toFloat(row[valueField])
		if !ok {
			continue
		}
		if _, seen := totals[label]; !seen {
			order = append(order, label)
		}
		totals[label] += value
	}

	sort.SliceStable(order, func(i, j int) bool {
		return totals[order[i]] > totals[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	if len(order) < MinDataPoints {
		return nil
	}

	values := make([]float64, len(order))
	for i, label := range order {
		values[i] = totals[label]
	}
	return &Descriptor{
		Type:       TypeBar,
		Title:      fmt.Sprintf("%s by %s", titleCase(valueField), titleCase(labelField)),
		Labels:     order,
		Values:     values,
		XAxisLabel: titleCase(labelField),
		YAxisLabel: titleCase(valueField),
		Colors:     palette(len(values)),
	}
}

// AggregateLine builds a time-series line chart, preserving row order.
// Line charts use a single color.
func AggregateLine(rows []map[string]any, timeField, valueField string, limit int) *Descriptor {
	if limit <= 0 || limit > MaxDataPoints {
		limit = MaxDataPoints
	}

	var labels []string
	var values []float64
	for _, row := range rows {
		t, ok := row[timeField]
		if !ok || t == nil {
			continue
		}
		value, ok := toFloat(row[valueField])
		if !ok {
			continue
		}
		labels = append(labels, fmt.Sprintf("%v", t))
		values = append(values, value)
	}

	if len(values) < MinDataPoints {
		return nil
	}
	if len(values) > limit {
		labels = labels[:limit]
		values = values[:limit]
	}
	return &Descriptor{
		Type:       TypeLine,
		Title:      fmt.Sprintf("%s Over Time", titleCase(valueField)),
		Labels:     labels,
		Values:     values,
		XAxisLabel: titleCase(timeField),
		YAxisLabel: titleCase(valueField),
		Colors:     DefaultColors[:1],
	}
}

// Distribution sums values per category and returns a pie chart holding
// percentages rounded to two decimals. Returns nil when the grand total is
// zero or fewer than MinDataPoints segments remain.
func Distribution(rows []map[string]any, categoryField, valueField string, limit int) *Descriptor {
	if limit <= 0 || limit > MaxDataPoints {
		limit = MaxDataPoints
	}

	totals := make(map[string]float64)
	var order []string
	var grand float64
	for _, row := range rows {
		category := "Other"
		if v, ok := row[categoryField]; ok && v != nil {
			category = fmt.Sprintf("%v", v)
		}
		value, ok := toFloat(row[valueField])
		if !ok {
			continue
		}
		if _, seen := totals[category]; !seen {
			order = append(order, category)
		}
		totals[category] += value
		grand += value
	}

	if grand == 0 {
		return nil
	}
	sort.SliceStable(order, func(i, j int) bool {
		return totals[order[i]] > totals[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	if len(order) < MinDataPoints {
		return nil
	}

	values := make([]float64, len(order))
	for i, category := range order {
		pct := totals[category] / grand * 100
		values[i] = roundTwo(pct)
	}
	return &Descriptor{
		Type:        TypePie,
		Title:       fmt.Sprintf("%s Distribution by %s", titleCase(valueField), categoryField),
		Labels:      order,
		Values:      values,
		Colors:      palette(len(values)),
		Description: fmt.Sprintf("Total: %s", groupInt(grand)),
	}
}

// DetectType infers the chart type from a natural language query. Explicit
// mentions win; otherwise keyword scores decide, with bar as the tie-break
// default.
func DetectType(query string) string {
	q := strings.ToLower(query)

	switch {
	case strings.Contains(q, "pie chart") || strings.Contains(q, "donut chart"):
		return TypePie
	case strings.Contains(q, "bar chart"):
		return TypeBar
	case strings.Contains(q, "line chart") || strings.Contains(q, "trend"):
		return TypeLine
	}

	scores := make(map[string]int, len(typeKeywords))
	for chartType, keywords := range typeKeywords {
		for _, kw := range keywords {
			if strings.Contains(q, kw) {
				scores[chartType]++
			}
		}
	}

	switch {
	case scores[TypeBar] >= scores[TypeLine] && scores[TypeBar] >= scores[TypePie]:
		return TypeBar
	case scores[TypeLine] > scores[TypeBar] && scores[TypeLine] >= scores[TypePie]:
		return TypeLine
	default:
		return TypePie
	}
}

func palette(n int) []string {
	if n > len(DefaultColors) {
		n = len(DefaultColors)
	}
	return DefaultColors[:n]
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func roundTwo(f float64) float64 {
	return math.Round(f*100) / 100
}

// groupInt renders a float as a whole number with thousands separators.
func groupInt(f float64) string {
	s := strconv.FormatFloat(f, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) > 3 {
		var b strings.Builder
		lead := len(s) % 3
		if lead > 0 {
			b.WriteString(s[:lead])
		}
		for i := lead; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}

func titleCase(field string) string {
	words := strings.FieldsFunc(field, func(r rune) bool {
		return r == '_' || r == ' '
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
