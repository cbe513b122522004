// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm wraps the Anthropic Messages API for transcript
// classification (tool calling) and short text generation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxctl/voxctl/internal/command"
	voxerrors "github.com/voxctl/voxctl/pkg/errors"
	"github.com/voxctl/voxctl/pkg/httpclient"
)

const (
	apiBaseURL = "https://api.anthropic.com/v1"
	apiVersion = "2023-06-01"

	defaultMaxTokens = 1024
)

// ToolUse is a tool invocation selected by the model.
type ToolUse struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// Result is the outcome of a tool-calling request. Exactly one of
// ToolUse and Text is meaningful on success.
type Result struct {
	Success bool     `json:"success"`
	ToolUse *ToolUse `json:"tool_use,omitempty"`
	Text    string   `json:"text,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Classifier selects a tool (or answers in text) for a user message.
type Classifier interface {
	CallWithTools(ctx context.Context, userMessage string, tools []command.Tool, systemPrompt string) (*Result, error)
	Generate(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error)
}

// Client calls the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client for the given key and model.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, &voxerrors.ConfigError{
			Key:    "ANTHROPIC_API_KEY",
			Reason: "API key is required",
		}
	}
	if model == "" {
		model = "claude-haiku-4-5"
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 60 * time.Second
	cfg.UserAgent = "voxctl-llm/1.0"
	// Messages API calls are POSTs, which the client never retries.
	cfg.RetryAttempts = 0
	httpClient, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    apiBaseURL,
		httpClient: httpClient,
	}, nil
}

// SetBaseURL overrides the API endpoint. Used in tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

type apiRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system,omitempty"`
	Messages  []apiMessage   `json:"messages"`
	Tools     []command.Tool `json:"tools,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content    []apiContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
}

type apiContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CallWithTools sends one user message with tool definitions and
// extracts the first tool_use block, or the text response when the
// model declined to pick a tool. API failures come back inside the
// Result rather than as errors, so callers can speak them to the user.
func (c *Client) CallWithTools(ctx context.Context, userMessage string, tools []command.Tool, systemPrompt string) (*Result, error) {
	req := apiRequest{
		Model:     c.model,
		MaxTokens: defaultMaxTokens,
		System:    systemPrompt,
		Messages:  []apiMessage{{Role: "user", Content: userMessage}},
		Tools:     tools,
	}

	resp, err := c.doRequest(ctx, &req)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	result := &Result{Success: true}
	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			if result.ToolUse == nil {
				use := &ToolUse{Name: block.Name, Input: map[string]any{}}
				if len(block.Input) > 0 {
					// Malformed input degrades to an empty parameter set.
					_ = json.Unmarshal(block.Input, &use.Input)
				}
				result.ToolUse = use
			}
		case "text":
			result.Text += block.Text
		}
	}
	return result, nil
}

// Generate sends a plain text prompt and returns the text response.
func (c *Client) Generate(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	req := apiRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  []apiMessage{{Role: "user", Content: userMessage}},
	}

	resp, err := c.doRequest(ctx, &req)
	if err != nil {
		return "", err
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func (c *Client) doRequest(ctx context.Context, apiReq *apiRequest) (*apiResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp apiErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d %s): %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return nil, fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &apiResp, nil
}
