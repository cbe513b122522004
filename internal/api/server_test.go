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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/voxctl/voxctl/internal/catalog"
	"github.com/voxctl/voxctl/internal/command"
	"github.com/voxctl/voxctl/internal/config"
	"github.com/voxctl/voxctl/internal/executor"
	"github.com/voxctl/voxctl/internal/history"
	"github.com/voxctl/voxctl/internal/mcp"
	"github.com/voxctl/voxctl/internal/parser"
	"github.com/voxctl/voxctl/internal/secrets"
	"github.com/voxctl/voxctl/internal/task"
)

type stubParser struct {
	result *parser.ParseResult
}

func (s *stubParser) Parse(ctx context.Context, transcript string) *parser.ParseResult {
	if s.result != nil {
		return s.result
	}
	return &parser.ParseResult{Success: true, CommandID: "welcome", CommandName: "Welcome", Parameters: map[string]any{}}
}

type stubRunner struct {
	lastCommandID string
	lastParams    map[string]any
}

func (s *stubRunner) Run(ctx context.Context, commandID string, parameters map[string]any, transcript string) (*executor.Result, int64) {
	s.lastCommandID = commandID
	s.lastParams = parameters
	return &executor.Result{Success: true, CommandID: commandID, Output: "done"}, 7
}

func newTestServer(t *testing.T) (*httptest.Server, *stubRunner, Deps) {
	t.Helper()
	keyring.MockInit()
	dir := t.TempDir()

	commands, err := command.NewStore(filepath.Join(dir, "commands.json"), nil)
	require.NoError(t, err)

	secretStore := secrets.NewStore("voxctl-test")
	registry, err := mcp.NewRegistry(filepath.Join(dir, "mcp_servers.json"), secretStore, nil)
	require.NoError(t, err)
	manager := mcp.NewManager(registry, secretStore, 0, nil)

	catalogSvc, err := catalog.NewService("http://registry.invalid", filepath.Join(dir, "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { catalogSvc.Close() })

	hist, err := history.NewStore(filepath.Join(dir, "voxctl.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	cfg := config.Default()
	runner := &stubRunner{}
	deps := Deps{
		Config:     &cfg,
		Commands:   commands,
		Manager:    manager,
		Catalog:    catalogSvc,
		Installer:  catalog.NewInstaller(catalogSvc, registry, nil),
		History:    hist,
		Parser:     &stubParser{},
		Runner:     runner,
		Secrets:    secretStore,
		Supervisor: task.NewSupervisor(nil),
		WatcherFn: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
	}

	server := httptest.NewServer(NewServer(deps, nil).Handler())
	t.Cleanup(server.Close)
	return server, runner, deps
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func doJSON(t *testing.T, method, url string, payload any) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealthAndConfig(t *testing.T) {
	server, _, _ := newTestServer(t)

	status, body := getJSON(t, server.URL+"/api/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "ok", body["status"])

	status, body = getJSON(t, server.URL+"/api/config")
	assert.Equal(t, http.StatusOK, status)
	cfg := body["config"].(map[string]any)
	assert.Equal(t, "command", cfg["activation_word"])
}

func TestCommandCRUD(t *testing.T) {
	server, _, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/commands", map[string]any{
		"id":              "greet",
		"name":            "Greet",
		"description":     "Say hello",
		"example_phrases": []string{"greet me"},
		"action":          map[string]any{"type": "http", "url": "https://example.com"},
	})
	require.Equal(t, http.StatusCreated, status, "body: %v", body)

	status, body = getJSON(t, server.URL+"/api/commands/greet")
	require.Equal(t, http.StatusOK, status)
	cmd := body["command"].(map[string]any)
	assert.Equal(t, "Greet", cmd["name"])

	status, _ = doJSON(t, http.MethodPut, server.URL+"/api/commands/greet", map[string]any{
		"id":              "greet",
		"name":            "Greet Loudly",
		"description":     "Say hello",
		"example_phrases": []string{"greet me"},
		"action":          map[string]any{"type": "http", "url": "https://example.com"},
	})
	require.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, http.MethodPatch, server.URL+"/api/commands/greet/toggle", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["enabled"])

	status, _ = doJSON(t, http.MethodDelete, server.URL+"/api/commands/greet", nil)
	require.Equal(t, http.StatusOK, status)

	status, body = getJSON(t, server.URL+"/api/commands/greet")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])
}

func TestParseEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/commands/test", map[string]any{
		"text": "command say hello",
	})
	require.Equal(t, http.StatusOK, status)
	result := body["parse_result"].(map[string]any)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "welcome", result["command_id"])

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/commands/test", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestExecuteEndpoint(t *testing.T) {
	server, runner, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/commands/execute", map[string]any{
		"command_id": "welcome",
		"parameters": map[string]any{"name": "world"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(7), body["log_id"])
	result := body["result"].(map[string]any)
	assert.Equal(t, "done", result["output"])
	assert.Equal(t, "welcome", runner.lastCommandID)
	assert.Equal(t, map[string]any{"name": "world"}, runner.lastParams)

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/commands/execute", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServerEndpoints(t *testing.T) {
	server, _, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, server.URL+"/api/mcp/servers", map[string]any{
		"name":      "Weather",
		"transport": "http",
		"http":      map[string]any{"url": "https://weather.example.com/mcp"},
		"secret_fields": []map[string]any{
			{"key": "API_TOKEN"},
		},
	})
	require.Equal(t, http.StatusCreated, status, "body: %v", body)
	view := body["server"].(map[string]any)
	serverID := view["id"].(string)
	require.NotEmpty(t, serverID)

	status, body = getJSON(t, server.URL+"/api/mcp/servers")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["servers"].([]any), 1)

	status, body = doJSON(t, http.MethodPut, server.URL+"/api/mcp/servers/"+serverID+"/secrets", map[string]string{
		"API_TOKEN": "tok",
	})
	require.Equal(t, http.StatusOK, status)
	flags := body["secretsSet"].(map[string]any)
	assert.Equal(t, true, flags["API_TOKEN"])

	status, _ = doJSON(t, http.MethodDelete, server.URL+"/api/mcp/servers/"+serverID, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, http.MethodDelete, server.URL+"/api/mcp/servers/"+serverID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCatalogEndpoints(t *testing.T) {
	server, _, deps := newTestServer(t)

	entry := catalog.Entry{
		ID:          "io.example/weather",
		Name:        "Weather",
		Description: "forecasts",
		Transports:  []string{"streamable-http"},
		DefaultEndpoint: &catalog.Endpoint{
			URL:       "https://weather.example.com/mcp",
			Transport: "streamable-http",
		},
	}
	require.NoError(t, deps.Catalog.ReplaceEntries(context.Background(), []catalog.Entry{entry}))

	status, body := getJSON(t, server.URL+"/api/mcp/catalog?search=weather")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["entries"].([]any), 1)
	assert.Equal(t, float64(1), body["total"])

	status, body = getJSON(t, server.URL+"/api/mcp/catalog/io.example/weather")
	require.Equal(t, http.StatusOK, status)
	got := body["entry"].(map[string]any)
	assert.Equal(t, "Weather", got["name"])

	status, body = doJSON(t, http.MethodPost, server.URL+"/api/mcp/catalog/io.example/weather/configure", map[string]any{})
	require.Equal(t, http.StatusCreated, status, "body: %v", body)
	installed := body["server"].(map[string]any)
	assert.Equal(t, "Weather", installed["name"])
}

func TestLogsEndpoints(t *testing.T) {
	server, _, deps := newTestServer(t)

	ctx := context.Background()
	id, err := deps.History.Start(ctx, "welcome", "Welcome", map[string]any{})
	require.NoError(t, err)
	require.NoError(t, deps.History.Finish(ctx, id, history.Outcome{
		Success: true, Output: "hi", Duration: 0.2,
	}, false))

	status, body := getJSON(t, server.URL+"/api/logs")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, false, body["has_more"])

	status, body = getJSON(t, server.URL+"/api/logs/1")
	require.Equal(t, http.StatusOK, status)
	entry := body["log"].(map[string]any)
	assert.Equal(t, "completed", entry["status"])

	status, _ = getJSON(t, server.URL+"/api/logs/999")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMonitorEndpoints(t *testing.T) {
	server, _, _ := newTestServer(t)

	status, body := getJSON(t, server.URL+"/api/monitor/status")
	require.Equal(t, http.StatusOK, status)
	monitor := body["status"].(map[string]any)
	assert.Equal(t, false, monitor["running"])

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/monitor/start", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/monitor/start", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = getJSON(t, server.URL+"/api/monitor/status")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["status"].(map[string]any)["running"])

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/monitor/stop", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/monitor/stop", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBrokerSettings(t *testing.T) {
	server, _, _ := newTestServer(t)

	status, body := getJSON(t, server.URL+"/api/broker/settings")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["configured"])

	status, _ = doJSON(t, http.MethodPut, server.URL+"/api/broker/settings", map[string]any{"apiKey": ""})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, http.MethodDelete, server.URL+"/api/broker/settings", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
