package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawden/internal/diagnose"
	"github.com/nextlevelbuilder/clawden/internal/dispatch"
)

const (
	llmDefaultModel     = "claude-sonnet-4-20250514"
	llmDefaultMaxTokens = 4096
	llmTimeout          = 120 * time.Second
)

// Message is one chat turn in an llm_call request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the upstream token accounting.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// LLMClient talks to the credential proxy over its unix socket. The sandbox
// never sees real credentials; the proxy injects them.
type LLMClient struct {
	httpc        *http.Client
	defaultModel string
}

// NewLLMClient dials the proxy socket for every request.
func NewLLMClient(socketPath, defaultModel string) *LLMClient {
	if defaultModel == "" {
		defaultModel = llmDefaultModel
	}
	return &LLMClient{
		defaultModel: defaultModel,
		httpc: &http.Client{
			Timeout: llmTimeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Complete sends one messages request and returns the concatenated text.
func (c *LLMClient) Complete(ctx context.Context, model string, maxTokens int, messages []Message) (string, Usage, error) {
	if model == "" {
		model = c.defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = llmDefaultMaxTokens
	}

	// System turns move to the dedicated field.
	var system string
	chat := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		chat = append(chat, m)
	}

	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   chat,
	}
	if system != "" {
		body["system"] = system
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://proxy/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", Usage{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm call: %s", diagnose.Describe(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", Usage{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("upstream status %d: %s", resp.StatusCode, diagnose.Describe(errors.New(string(raw))))
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", Usage{}, fmt.Errorf("decode response: %w", err)
	}
	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), parsed.Usage, nil
}

// LLMCall is the llm_call handler.
func (t *Tools) LLMCall(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	if t.llm == nil {
		return nil, errors.New("llm_call is not configured")
	}

	rawMsgs, _ := call.Args["messages"].([]any)
	messages := make([]Message, 0, len(rawMsgs))
	for _, rm := range rawMsgs {
		obj, ok := rm.(map[string]any)
		if !ok {
			continue
		}
		messages = append(messages, Message{
			Role:    argString(obj, "role"),
			Content: argString(obj, "content"),
		})
	}

	text, usage, err := t.llm.Complete(ctx,
		argString(call.Args, "model"), argInt(call.Args, "maxTokens", 0), messages)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content": text,
		"usage":   usage,
	}, nil
}
