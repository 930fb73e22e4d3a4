package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsight-ai/finsight/internal/audit"
	"github.com/finsight-ai/finsight/internal/chart"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/sanitize"
	"github.com/finsight-ai/finsight/internal/session"
	"github.com/finsight-ai/finsight/internal/tools"
)

const (
	defaultMaxTokens    = 4096
	defaultHistoryLimit = 20
)

// Orchestrator runs the full message pipeline: audit, session validation,
// model call with tools, a single tool round, final model call, persistence.
type Orchestrator struct {
	provider   llm.Provider
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	sessions   *session.Manager
	recorder   *audit.Recorder
	logger     *slog.Logger

	maxTokens    int
	historyLimit int
	now          func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMaxTokens caps the model's output per call.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithHistoryLimit sets how many prior messages are replayed as context.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyLimit = n
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(provider llm.Provider, registry *tools.Registry, dispatcher *tools.Dispatcher, sessions *session.Manager, recorder *audit.Recorder, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:     provider,
		registry:     registry,
		dispatcher:   dispatcher,
		sessions:     sessions,
		recorder:     recorder,
		logger:       logger,
		maxTokens:    defaultMaxTokens,
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessMessage handles one user message end to end. Errors surface as a
// failed Result with a user-safe message; the raw error goes to the audit
// trail and the log, never to the caller. Input and session validation run
// before anything touches the trail, so a rejected message leaves no
// audit record.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, userMessage, subject string) *Result {
	start := o.now()

	cleaned, sess, err := o.validateTurn(ctx, sessionID, userMessage, subject)
	if err != nil {
		elapsed := o.now().Sub(start).Milliseconds()
		o.logger.WarnContext(ctx, "message rejected",
			slog.String("session_id", sessionID),
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return &Result{
			Success:        false,
			Response:       friendlyError(err),
			ProcessingTime: elapsed,
			Err:            err.Error(),
		}
	}

	auditID := o.recorder.LogQuery(ctx, sessionID, subject, cleaned)

	result, procErr := o.process(ctx, sess, cleaned, subject, auditID, start)
	if procErr == nil {
		return result
	}

	elapsed := o.now().Sub(start).Milliseconds()
	o.logger.ErrorContext(ctx, "message processing failed",
		slog.String("session_id", sessionID),
		slog.String("subject", subject),
		slog.String("error", procErr.Error()),
	)
	if err := o.recorder.FinalizeQuery(ctx, auditID, audit.Finalization{
		PermissionChecksPassed: true,
		ErrorOccurred:          true,
		ErrorMessage:           procErr.Error(),
		ProcessingTimeMs:       elapsed,
	}); err != nil {
		o.logger.WarnContext(ctx, "audit finalize after failure",
			slog.String("audit_id", auditID),
			slog.String("error", err.Error()),
		)
	}
	return &Result{
		Success:        false,
		Response:       friendlyError(procErr),
		ProcessingTime: elapsed,
		Err:            procErr.Error(),
	}
}

// validateTurn sanitizes the message and checks the session before the
// turn is admitted. Rejections happen here, ahead of any audit write.
func (o *Orchestrator) validateTurn(ctx context.Context, sessionID, userMessage, subject string) (string, *session.Session, error) {
	cleaned, err := sanitize.UserInput(userMessage, sanitize.DefaultMaxInputLength)
	if err != nil {
		return "", nil, fmt.Errorf("invalid message: %w", err)
	}
	if cleaned == "" {
		return "", nil, fmt.Errorf("empty message")
	}

	sess, err := o.sessions.Validate(ctx, sessionID, subject)
	if err != nil {
		return "", nil, fmt.Errorf("session validation: %w", err)
	}
	return cleaned, sess, nil
}

func (o *Orchestrator) process(ctx context.Context, sess *session.Session, cleaned, subject, auditID string, start time.Time) (*Result, error) {
	sessionID := sess.ID

	history, err := o.sessions.History(ctx, sessionID, o.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, llm.Message{Role: llm.Role(msg.Role), Content: msg.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: cleaned})

	defs := tools.ToLLMDefinitions(o.registry)

	resp, err := o.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		MaxTokens:    o.maxTokens,
		Tools:        defs,
		ToolChoice:   llm.ToolChoiceAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	totalTokens := resp.Usage.TotalTokens()
	toolsCalled := 0
	permissionChecksPassed := true
	var dataAccessed []audit.DataAccess
	responseText := resp.Content

	if resp.HasToolUse() {
		inv := tools.Invocation{
			SessionID:      sessionID,
			Subject:        subject,
			CompanyContext: sess.CompanyContext,
		}

		var resultBlocks []llm.ContentBlock
		for _, call := range resp.ToolUseBlocks() {
			output, status := o.dispatcher.Execute(ctx, call.Name, call.Input, auditID, inv)
			toolsCalled++
			dataAccessed = append(dataAccessed, audit.DataAccess{
				Tool:      call.Name,
				Arguments: audit.Redact(call.Input),
			})
			if status == tools.StatusPermissionDenied {
				permissionChecksPassed = false
			}
			resultBlocks = append(resultBlocks, llm.ToolResultBlock(call.ID, output, status != tools.StatusSuccess))
		}

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, ContentBlocks: resp.ContentBlocks},
			llm.Message{Role: llm.RoleUser, ContentBlocks: resultBlocks},
		)

		// Tools stay visible but the model may not start a second round.
		final, err := o.provider.SendMessage(ctx, &llm.Request{
			SystemPrompt: systemPrompt,
			Messages:     messages,
			MaxTokens:    o.maxTokens,
			Tools:        defs,
			ToolChoice:   llm.ToolChoiceNone,
		})
		if err != nil {
			return nil, fmt.Errorf("model follow-up call: %w", err)
		}
		totalTokens += final.Usage.TotalTokens()
		responseText = final.Content
	}

	elapsed := o.now().Sub(start).Milliseconds()

	if err := o.sessions.AppendExchange(ctx, sessionID, []*session.Message{
		{SessionID: sessionID, Role: string(llm.RoleUser), Content: cleaned},
		{SessionID: sessionID, Role: string(llm.RoleAssistant), Content: responseText, TokenCount: totalTokens},
	}, totalTokens); err != nil {
		return nil, fmt.Errorf("persisting exchange: %w", err)
	}

	if err := o.recorder.FinalizeQuery(ctx, auditID, audit.Finalization{
		ResponseSummary:        responseText,
		DataAccessed:           dataAccessed,
		PermissionChecksPassed: permissionChecksPassed,
		ToolsCalled:            toolsCalled,
		ProcessingTimeMs:       elapsed,
	}); err != nil {
		o.logger.WarnContext(ctx, "audit finalize",
			slog.String("audit_id", auditID),
			slog.String("error", err.Error()),
		)
	}

	return &Result{
		Success:        true,
		Response:       chart.Strip(responseText),
		Chart:          chart.Extract(responseText),
		ProcessingTime: elapsed,
		ToolsCalled:    toolsCalled,
		TokenCount:     totalTokens,
	}, nil
}
