// Package agent orchestrates a chat turn: permission-gated tool execution
// between two model calls, with an audit record bracketing the whole turn.
package agent

import (
	"github.com/finsight-ai/finsight/internal/chart"
)

// Result is the outcome of processing one user message.
type Result struct {
	Success        bool              `json:"success"`
	Response       string            `json:"response"`
	Chart          *chart.Descriptor `json:"chart,omitempty"`
	ProcessingTime int64             `json:"processing_time_ms"`
	ToolsCalled    int               `json:"tools_called"`
	TokenCount     int               `json:"token_count"`
	Err            string            `json:"error,omitempty"`
}
