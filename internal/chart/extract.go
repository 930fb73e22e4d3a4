package chart

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Model replies embed chart payloads between {CHART_DATA} and {/CHART_DATA}
// markers, holding a single JSON object.
var (
	extractPattern = regexp.MustCompile(`(?s)\{CHART_DATA\}\s*(\{.*?\})\s*\{/CHART_DATA\}`)
	stripPattern   = regexp.MustCompile(`(?s)\{CHART_DATA\}.*?\{/CHART_DATA\}\s*`)
)

// Extract parses the first chart payload embedded in text. It returns nil
// when no marker pair is present, the JSON is malformed, a required field
// is missing, the chart type is unknown, or labels and values differ in
// length. A bad payload never fails the response that carries it.
func Extract(text string) *Descriptor {
	match := extractPattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(match[1]), &raw); err != nil {
		return nil
	}
	for _, field := range []string{"chart_type", "labels", "values"} {
		if _, ok := raw[field]; !ok {
			return nil
		}
	}

	var desc Descriptor
	if err := json.Unmarshal([]byte(match[1]), &desc); err != nil {
		return nil
	}
	switch desc.Type {
	case TypeBar, TypeLine, TypePie:
	default:
		return nil
	}
	if len(desc.Labels) != len(desc.Values) {
		return nil
	}
	if len(desc.Colors) == 0 {
		desc.Colors = palette(len(desc.Values))
	}
	return &desc
}

// Strip removes every chart block from text, leaving only the prose.
// Unbalanced markers are left in place.
func Strip(text string) string {
	return strings.TrimSpace(stripPattern.ReplaceAllString(text, ""))
}
