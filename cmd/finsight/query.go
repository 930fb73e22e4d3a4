package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the query command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitDenied      = 2
	ExitUnavailable = 3
)

var (
	queryMessage   string
	queryServerURL string
	queryAPIKey    string
	querySessionID string
	queryCompany   string
	queryStream    bool
	queryTimeout   int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a one-shot question to a running finsight server",
	Long: `Send a message to the finsight HTTP API for processing.
Without --session a new chat session is created first; pass --session to
continue an existing conversation.

Examples:
  finsight query -m "what was our revenue last month?"
  finsight query -m "show the P&L for 2025" --company "Acme Corp"
  finsight query -m "top customers by sales" --session 6f1c... --stream

Exit codes:
  0  success
  1  execution failure
  2  unauthorized or rate limited
  3  server unavailable`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryMessage, "message", "m", "", "message to send (required)")
	queryCmd.Flags().StringVar(&queryServerURL, "server-url", "http://localhost:8080", "finsight HTTP API URL")
	queryCmd.Flags().StringVar(&queryAPIKey, "api-key", "", "API key for authentication (or FINSIGHT_API_KEY env)")
	queryCmd.Flags().StringVar(&querySessionID, "session", "", "existing session ID for multi-turn context")
	queryCmd.Flags().StringVar(&queryCompany, "company", "", "company context for a newly created session")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "stream response via SSE")
	queryCmd.Flags().IntVar(&queryTimeout, "timeout", 300, "timeout in seconds")

	_ = queryCmd.MarkFlagRequired("message")
}

func runQuery(_ *cobra.Command, _ []string) error {
	if queryMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}

	apiKey := goutils.Env("FINSIGHT_API_KEY", queryAPIKey)
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required (use --api-key or set FINSIGHT_API_KEY)")
		os.Exit(ExitDenied)
	}

	serverURL := goutils.Env("FINSIGHT_SERVER_URL", queryServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(queryTimeout)*time.Second)
	defer cancel()

	sessionID := querySessionID
	if sessionID == "" {
		var err error
		sessionID, err = createSession(ctx, serverURL, apiKey)
		if err != nil {
			return err
		}
	}

	if queryStream {
		return runQuerySSE(ctx, serverURL, apiKey, sessionID)
	}
	return runQueryHTTP(ctx, serverURL, apiKey, sessionID)
}

// createSession starts a new chat session and returns its ID.
func createSession(ctx context.Context, serverURL, apiKey string) (string, error) {
	reqBody, _ := json.Marshal(map[string]any{
		"company_context": queryCompany,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", serverURL+"/v1/sessions", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitDenied)
	}
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(body))
		os.Exit(ExitFailure)
	}

	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("parsing session response: %w", err)
	}
	return created.SessionID, nil
}

// runQueryHTTP sends a synchronous message and prints the response.
func runQueryHTTP(ctx context.Context, serverURL, apiKey, sessionID string) error {
	reqBody, _ := json.Marshal(map[string]any{
		"message": queryMessage,
	})

	url := fmt.Sprintf("%s/v1/sessions/%s/messages", serverURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var result struct {
			Success        bool            `json:"success"`
			Response       string          `json:"response"`
			Chart          json.RawMessage `json:"chart"`
			ProcessingTime int64           `json:"processing_time_ms"`
			ToolsCalled    int             `json:"tools_called"`
			TokenCount     int             `json:"token_count"`
		}
		_ = json.Unmarshal(respBody, &result)
		fmt.Println(result.Response)
		if len(result.Chart) > 0 && string(result.Chart) != "null" {
			fmt.Fprintf(os.Stderr, "\n[chart] %s\n", string(result.Chart))
		}
		fmt.Fprintf(os.Stderr, "\n[session=%s tools=%d tokens=%d elapsed=%dms]\n",
			sessionID, result.ToolsCalled, result.TokenCount, result.ProcessingTime)
		if !result.Success {
			os.Exit(ExitFailure)
		}
		os.Exit(ExitSuccess)

	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitDenied)

	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited, try again later")
		os.Exit(ExitDenied)

	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: server unavailable (%d)\n", resp.StatusCode)
		os.Exit(ExitUnavailable)

	default:
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(ExitFailure)
	}

	return nil
}

// runQuerySSE sends a streaming message and prints events as they arrive.
func runQuerySSE(ctx context.Context, serverURL, apiKey, sessionID string) error {
	reqBody, _ := json.Marshal(map[string]any{
		"message": queryMessage,
	})

	url := fmt.Sprintf("%s/v1/sessions/%s/messages/stream", serverURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitDenied)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(body))
		os.Exit(ExitFailure)
	}

	scanner := bufio.NewScanner(resp.Body)
	exitCode := ExitSuccess

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event struct {
			Type    string          `json:"type"`
			Content string          `json:"content"`
			Chart   json.RawMessage `json:"chart"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "text":
			fmt.Print(event.Content)
		case "chart":
			fmt.Fprintf(os.Stderr, "\n[chart] %s\n", string(event.Chart))
		case "error":
			fmt.Fprintf(os.Stderr, "Error: %s\n", event.Content)
			exitCode = ExitFailure
		case "done":
			fmt.Println()
			os.Exit(exitCode)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: stream interrupted: %v\n", err)
		os.Exit(ExitFailure)
	}

	os.Exit(exitCode)
	return nil
}
