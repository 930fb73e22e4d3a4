// Package report defines the report executor the agent's tools call to fetch
// tabular business data. The executor is an abstraction: the SQL-backed
// implementation in this package runs a fixed catalog of named, parameterized,
// read-only queries; tests substitute an in-memory implementation.
package report

import (
	"context"
	"errors"
)

// ErrUnknownReport is returned by Run when the report name is not in the
// executor's catalog.
var ErrUnknownReport = errors.New("unknown report")

// IsUnknown reports whether err means the requested report does not exist.
func IsUnknown(err error) bool {
	return errors.Is(err, ErrUnknownReport)
}

// Column describes one column of a report result.
type Column struct {
	Fieldname string `json:"fieldname"`
	Label     string `json:"label"`
	Fieldtype string `json:"fieldtype"` // "Data", "Date", "Currency", "Float", "Int", "Percent"
}

// SummaryItem is a headline figure attached to a report result.
type SummaryItem struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Result is a tabular report outcome.
type Result struct {
	Columns []Column
	Rows    []map[string]any
	Summary []SummaryItem
}

// Info describes a catalog entry for discovery.
type Info struct {
	Name        string
	Module      string
	Description string
}

// Executor runs named reports on behalf of a subject.
type Executor interface {
	// Run executes the named report with the given filters.
	// Filters are report-specific; unknown filter keys are ignored.
	Run(ctx context.Context, reportName string, filters map[string]any, subject string) (*Result, error)

	// List returns the available reports, optionally filtered by module.
	List(module string) []Info
}
