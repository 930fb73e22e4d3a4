// Package sanitize cleans user-supplied input before it reaches the agent
// or any query filter. HTML escaping and SQL-pattern stripping are
// defense-in-depth: the primary protection remains parameterized queries.
package sanitize

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// DefaultMaxInputLength caps a single user message.
const DefaultMaxInputLength = 10000

// ErrTooLong reports input exceeding the allowed length.
type ErrTooLong struct {
	Length int
	Max    int
}

func (e *ErrTooLong) Error() string {
	return fmt.Sprintf("input exceeds maximum length of %d characters (got %d)", e.Max, e.Length)
}

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

	sqlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i);\s*--`),
		regexp.MustCompile(`(?i);\s*DROP\s+`),
		regexp.MustCompile(`(?i);\s*DELETE\s+`),
		regexp.MustCompile(`(?i);\s*UPDATE\s+`),
		regexp.MustCompile(`(?i);\s*INSERT\s+`),
		regexp.MustCompile(`(?i)UNION\s+SELECT`),
		regexp.MustCompile(`(?i)OR\s+1\s*=\s*1`),
		regexp.MustCompile(`(?i)AND\s+1\s*=\s*1`),
	}

	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// UserInput sanitizes a user message: enforces the length cap, strips control
// characters (keeping newlines and tabs), escapes HTML entities, and removes
// common SQL injection patterns. Returns the cleaned, trimmed text.
func UserInput(text string, maxLength int) (string, error) {
	if text == "" {
		return "", nil
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxInputLength
	}
	if len(text) > maxLength {
		return "", &ErrTooLong{Length: len(text), Max: maxLength}
	}

	text = controlChars.ReplaceAllString(text, "")
	text = html.EscapeString(text)
	for _, p := range sqlPatterns {
		text = p.ReplaceAllString(text, "")
	}

	return strings.TrimSpace(text), nil
}

// Map recursively sanitizes string values in a map, up to maxDepth levels.
// Non-string scalar values pass through unchanged.
func Map(data map[string]any, maxDepth int) map[string]any {
	if maxDepth <= 0 {
		return data
	}
	out := make(map[string]any, len(data))
	for key, value := range data {
		safeKey, err := UserInput(key, 100)
		if err != nil {
			continue
		}
		switch v := value.(type) {
		case string:
			clean, err := UserInput(v, DefaultMaxInputLength)
			if err != nil {
				continue
			}
			out[safeKey] = clean
		case map[string]any:
			out[safeKey] = Map(v, maxDepth-1)
		case []any:
			items := make([]any, 0, len(v))
			for _, item := range v {
				switch iv := item.(type) {
				case string:
					clean, err := UserInput(iv, DefaultMaxInputLength)
					if err != nil {
						continue
					}
					items = append(items, clean)
				case map[string]any:
					items = append(items, Map(iv, maxDepth-1))
				default:
					items = append(items, item)
				}
			}
			out[safeKey] = items
		default:
			out[safeKey] = value
		}
	}
	return out
}

// ValidDate reports whether s is a YYYY-MM-DD date string.
func ValidDate(s string) bool {
	return datePattern.MatchString(s)
}

// ValidReportName rejects empty names and path traversal attempts.
// Existence of the report is checked against the report catalog, not here.
func ValidReportName(name string) bool {
	if name == "" {
		return false
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}
