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

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxctl/voxctl/internal/command"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient("sk-test", "claude-haiku-4-5")
	require.NoError(t, err)
	client.SetBaseURL(srv.URL)
	return client
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient("", "model")
	assert.Error(t, err)
}

func TestCallWithToolsToolUse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-haiku-4-5", req["model"])
		assert.NotEmpty(t, req["tools"])

		json.NewEncoder(w).Encode(map[string]any{
			"content": []any{
				map[string]any{
					"type":  "tool_use",
					"name":  "get_weather",
					"input": map[string]any{"city": "Portland"},
				},
			},
			"stop_reason": "tool_use",
		})
	})

	tools := []command.Tool{{Name: "get_weather", Description: "weather"}}
	result, err := client.CallWithTools(context.Background(), "what's the weather in portland", tools, "route commands")
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.NotNil(t, result.ToolUse)
	assert.Equal(t, "get_weather", result.ToolUse.Name)
	assert.Equal(t, "Portland", result.ToolUse.Input["city"])
}

func TestCallWithToolsTextOnly(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": "No matching command."},
			},
			"stop_reason": "end_turn",
		})
	})

	result, err := client.CallWithTools(context.Background(), "gibberish", nil, "")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Nil(t, result.ToolUse)
	assert.Equal(t, "No matching command.", result.Text)
}

func TestCallWithToolsAPIErrorInResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	})

	result, err := client.CallWithTools(context.Background(), "hi", nil, "")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "slow down")
}

func TestCallWithToolsSingleRequestOnError(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	result, err := client.CallWithTools(context.Background(), "hi", nil, "")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
}

func TestGenerate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(100), req["max_tokens"])
		assert.Nil(t, req["tools"])

		json.NewEncoder(w).Encode(map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": "Summary here."},
			},
		})
	})

	text, err := client.Generate(context.Background(), "summarize", "some output", 100)
	require.NoError(t, err)
	assert.Equal(t, "Summary here.", text)
}

func TestGenerateAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Generate(context.Background(), "", "x", 0)
	assert.Error(t, err)
}
