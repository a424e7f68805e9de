// Package openai implements the OpenAI chat completions API with tool
// support, as the alternative provider behind the llm.Client interface.
package openai

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

const defaultBaseURL = "https://api.openai.com"
const defaultMaxTokens = 2048

// Client calls the OpenAI chat completions API.
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

type chatCompletionRequest struct {
	Model     string            `json:"model"`
	Messages  []llm.ChatMessage `json:"messages"`
	Tools     []llm.Tool        `json:"tools,omitempty"`
	MaxTokens int               `json:"max_completion_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      llm.ChatMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
}

// ChatWithTools sends a conversation plus tool definitions and returns the
// model's text and any tool calls.
func (c *Client) ChatWithTools(ctx context.Context, model string, messages []llm.ChatMessage, tools []llm.Tool) (llm.ChatResponse, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:     model,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return llm.ChatResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return llm.ChatResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return llm.ChatResponse{}, llm.ErrUnauthorized
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return llm.ChatResponse{}, llm.ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return llm.ChatResponse{}, llm.ErrUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(resp.Body)
		return llm.ChatResponse{}, fmt.Errorf("openai error: %s - %s", resp.Status, string(errorBody))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return llm.ChatResponse{}, err
	}
	if len(parsed.Choices) == 0 {
		return llm.ChatResponse{}, errors.New("openai empty response")
	}
	choice := parsed.Choices[0]
	if choice.Message.Content == "" && len(choice.Message.ToolCalls) == 0 {
		return llm.ChatResponse{}, errors.New("openai empty response")
	}
	finishReason := choice.FinishReason
	if finishReason == "" {
		finishReason = "stop"
		if len(choice.Message.ToolCalls) > 0 {
			finishReason = "tool_calls"
		}
	}
	return llm.ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: finishReason,
	}, nil
}
