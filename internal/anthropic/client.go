// Package anthropic implements the Anthropic Messages API (minimal v1
// support, tool use included).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledgerworks/choubo/internal/llm"
)

const defaultBaseURL = "https://api.anthropic.com"
const defaultVersion = "2023-06-01"
const defaultMaxTokens = 2048

// Client calls the Anthropic Messages API.
type Client struct {
	apiKey    string
	baseURL   string
	maxTokens int
	client    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithMaxTokens sets the completion token cap.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// NewClient creates a client holding the API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:    apiKey,
		baseURL:   defaultBaseURL,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChatWithTools sends a conversation plus tool definitions and returns the
// model's text and any tool calls.
func (c *Client) ChatWithTools(ctx context.Context, model string, messages []llm.ChatMessage, tools []llm.Tool) (llm.ChatResponse, error) {
	anthropicMessages, systemPrompt := toAnthropicMessages(messages)
	payload := map[string]any{
		"model":      model,
		"max_tokens": c.maxTokens,
		"messages":   anthropicMessages,
	}
	if systemPrompt != "" {
		payload["system"] = systemPrompt
	}
	if len(tools) > 0 {
		payload["tools"] = toAnthropicTools(tools)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	respBody, err := c.post(ctx, body)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	var response anthropicResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return llm.ChatResponse{}, err
	}
	text, toolCalls := extractContent(response.Content)
	if text == "" && len(toolCalls) == 0 {
		return llm.ChatResponse{}, errors.New("anthropic empty response")
	}
	finishReason := "stop"
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
	}
	return llm.ChatResponse{Content: text, ToolCalls: toolCalls, FinishReason: finishReason}, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", defaultVersion)
	req.Header.Set("content-type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, llm.ErrUnauthorized
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, llm.ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return nil, llm.ErrUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic error: %s - %s", resp.Status, string(errorBody))
	}
	return io.ReadAll(resp.Body)
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

// toAnthropicMessages maps neutral chat messages to the Anthropic shape.
// System messages are lifted into the top-level system prompt; tool results
// become user-role tool_result blocks.
func toAnthropicMessages(chat []llm.ChatMessage) ([]anthropicMessage, string) {
	var messages []anthropicMessage
	systemParts := make([]string, 0)
	for _, msg := range chat {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system":
			if text := strings.TrimSpace(msg.Content); text != "" {
				systemParts = append(systemParts, text)
			}
		case "tool":
			messages = append(messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		default:
			content := []anthropicContent{}
			if msg.Content != "" {
				content = append(content, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				input := map[string]any{}
				if call.Function.Arguments != "" {
					_ = json.Unmarshal([]byte(call.Function.Arguments), &input)
				}
				content = append(content, anthropicContent{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: input,
				})
			}
			messages = append(messages, anthropicMessage{
				Role:    strings.ToLower(strings.TrimSpace(msg.Role)),
				Content: content,
			})
		}
	}
	return messages, strings.Join(systemParts, "\n\n")
}

func toAnthropicTools(tools []llm.Tool) []anthropicTool {
	result := make([]anthropicTool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, anthropicTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}
	return result
}

func extractContent(contents []anthropicContent) (string, []llm.ToolCall) {
	var buf bytes.Buffer
	var calls []llm.ToolCall
	for _, item := range contents {
		switch item.Type {
		case "text":
			buf.WriteString(item.Text)
		case "tool_use":
			args, _ := json.Marshal(item.Input)
			calls = append(calls, llm.ToolCall{
				ID:   item.ID,
				Type: "function",
				Function: llm.ToolCallFunction{
					Name:      item.Name,
					Arguments: string(args),
				},
			})
		}
	}
	return buf.String(), calls
}
