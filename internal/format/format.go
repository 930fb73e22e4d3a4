// Package format renders report results and document lists as compact text
// for model consumption.
package format

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/finsight-ai/finsight/internal/report"
)

// Report renders a report result as a markdown table with an optional
// summary and totals block. Rows beyond maxRows are dropped and a leading
// line notes the truncation.
func Report(res *report.Result, maxRows int, includeTotals bool) string {
	if res == nil {
		return "No data available."
	}
	if len(res.Rows) == 0 {
		return "The report returned no results for the given criteria."
	}

	var parts []string

	rows := res.Rows
	if len(rows) > maxRows {
		parts = append(parts, fmt.Sprintf("Showing first %d of %d total rows.\n", maxRows, len(rows)))
		rows = rows[:maxRows]
	}

	labels := make([]string, len(res.Columns))
	for i, col := range res.Columns {
		labels[i] = columnLabel(col)
	}
	parts = append(parts, "| "+strings.Join(labels, " | ")+" |")
	seps := make([]string, len(labels))
	for i := range seps {
		seps[i] = "---"
	}
	parts = append(parts, "|"+strings.Join(seps, "|")+"|")

	for _, row := range rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = Value(row[col.Fieldname])
		}
		parts = append(parts, "| "+strings.Join(cells, " | ")+" |")
	}

	if len(res.Summary) > 0 {
		parts = append(parts, "\n**Summary:**")
		for _, item := range res.Summary {
			parts = append(parts, fmt.Sprintf("- %s: %s", item.Label, Value(item.Value)))
		}
	}

	if includeTotals {
		if totals := columnTotals(res.Columns, rows); len(totals) > 0 {
			parts = append(parts, "\n**Totals:**")
			for _, col := range res.Columns {
				if total, ok := totals[col.Fieldname]; ok {
					parts = append(parts, fmt.Sprintf("- %s: %s", columnLabel(col), Value(total)))
				}
			}
		}
	}

	return strings.Join(parts, "\n")
}

// List renders a slice of documents as a numbered list. fields selects and
// orders the shown fields; nil shows every field of the first item.
func List(data []map[string]any, fields []string, maxItems int) string {
	if len(data) == 0 {
		return "No items found."
	}

	total := len(data)
	if total > maxItems {
		data = data[:maxItems]
	}

	if fields == nil {
		for field := range data[0] {
			fields = append(fields, field)
		}
		sort.Strings(fields)
	}

	var parts []string
	if total > maxItems {
		parts = append(parts, fmt.Sprintf("Showing %d of %d total items:\n", maxItems, total))
	}

	for i, item := range data {
		var itemParts []string
		for _, field := range fields {
			value := item[field]
			if value == nil || value == "" {
				continue
			}
			itemParts = append(itemParts, fmt.Sprintf("%s: %s", displayName(field), Value(value)))
		}
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, strings.Join(itemParts, ", ")))
	}

	return strings.Join(parts, "\n")
}

// Value formats a scalar for display. Nil renders as "-", numbers get
// thousands separators, integral floats drop their decimals, and composite
// values fall back to JSON.
func Value(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return groupThousands(strconv.FormatInt(int64(t), 10))
		}
		return groupDecimal(strconv.FormatFloat(t, 'f', 2, 64))
	case float32:
		return Value(float64(t))
	case int:
		return groupThousands(strconv.Itoa(t))
	case int32:
		return groupThousands(strconv.FormatInt(int64(t), 10))
	case int64:
		return groupThousands(strconv.FormatInt(t, 10))
	case []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Currency formats a numeric value as money with two decimals, an optional
// label and a leading symbol.
func Currency(value float64, label, symbol string) string {
	if symbol == "" {
		symbol = "$"
	}
	formatted := symbol + groupDecimal(strconv.FormatFloat(value, 'f', 2, 64))
	if label != "" {
		return label + ": " + formatted
	}
	return formatted
}

// Truncate caps text at maxLength, appending a marker when cut. The cut
// point leaves room for the marker; tiny limits degenerate to the marker
// alone.
func Truncate(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	cut := maxLength - 50
	if cut < 0 {
		cut = 0
	}
	return text[:cut] + "\n\n[... truncated for brevity]"
}

func columnLabel(col report.Column) string {
	if col.Label != "" {
		return col.Label
	}
	return col.Fieldname
}

// columnTotals sums numeric columns, keyed by fieldname. Zero totals are
// omitted.
func columnTotals(columns []report.Column, rows []map[string]any) map[string]float64 {
	totals := make(map[string]float64)
	for _, col := range columns {
		switch col.Fieldtype {
		case "Currency", "Float", "Int", "Percent":
		default:
			continue
		}
		var total float64
		for _, row := range rows {
			total += toFloat(row[col.Fieldname])
		}
		if total != 0 {
			totals[col.Fieldname] = total
		}
	}
	return totals
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// groupThousands inserts comma separators into a decimal integer string.
func groupThousands(s string) string {
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

// groupDecimal applies thousands separators to the integer part of a fixed
// decimal string.
func groupDecimal(s string) string {
	intPart, frac, ok := strings.Cut(s, ".")
	if !ok {
		return groupThousands(s)
	}
	return groupThousands(intPart) + "." + frac
}

func displayName(field string) string {
	words := strings.Split(field, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
