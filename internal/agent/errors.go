package agent

import (
	"errors"
	"strings"

	"github.com/finsight-ai/finsight/internal/permission"
	"github.com/finsight-ai/finsight/internal/session"
)

// friendlyError maps an internal failure to a message safe to show the
// end user. Raw error text never leaves the service.
func friendlyError(err error) string {
	switch {
	case errors.Is(err, session.ErrNotOwner), errors.Is(err, permission.ErrDenied):
		return "You don't have permission to access the requested data."
	case errors.Is(err, session.ErrNotFound):
		return "This chat session no longer exists. Please start a new conversation."
	case errors.Is(err, session.ErrNotActive):
		return "This chat session has ended. Please start a new conversation."
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"):
		return "The AI service is not properly configured. Please contact your administrator."
	case strings.Contains(msg, "rate limit"):
		return "The AI service is currently busy. Please try again in a few moments."
	case strings.Contains(msg, "connection"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return "Unable to connect to the AI service. Please check your internet connection and try again."
	case strings.Contains(msg, "permission"):
		return "You don't have permission to access the requested data."
	default:
		return "An error occurred while processing your request. Please try again or rephrase your question."
	}
}
