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

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/voxctl/voxctl/internal/command"
	"github.com/voxctl/voxctl/internal/secrets"
	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

// Manager ties together the server registry, the per-operation session
// factory, and the tool cache. It is the single entry point the rest of
// the daemon uses to talk to MCP servers.
type Manager struct {
	registry *Registry
	sessions *sessionFactory
	cache    *toolCache
	logger   *slog.Logger
}

// NewManager builds a Manager around an existing registry.
func NewManager(registry *Registry, secretStore *secrets.Store, toolCacheTTL time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		registry: registry,
		sessions: newSessionFactory(secretStore, logger),
		cache:    newToolCache(toolCacheTTL),
		logger:   logger,
	}
	registry.setOnChange(m.cache.invalidate)
	return m
}

// Registry exposes the underlying config registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// ListTools returns the tools of one server, using the cache unless
// forceRefresh is set or the entry is stale.
func (m *Manager) ListTools(ctx context.Context, serverID string, forceRefresh bool) ([]ToolInfo, error) {
	cfg, err := m.registry.Config(serverID)
	if err != nil {
		return nil, err
	}
	return m.toolsForServer(ctx, cfg, forceRefresh)
}

// ListAllTools returns the tools of every enabled server. Servers that
// fail discovery are skipped with a warning so one broken server does
// not hide the rest.
func (m *Manager) ListAllTools(ctx context.Context, forceRefresh bool) []ToolInfo {
	var all []ToolInfo
	for _, cfg := range m.registry.enabledConfigs() {
		cfg := cfg
		tools, err := m.toolsForServer(ctx, &cfg, forceRefresh)
		if err != nil {
			m.logger.Warn("tool discovery failed",
				"server_id", cfg.ID, "server", cfg.Name, "error", err)
			continue
		}
		all = append(all, tools...)
	}
	return all
}

// DiscoverTools implements command.ToolSource for virtual commands.
func (m *Manager) DiscoverTools(ctx context.Context) ([]command.DiscoveredTool, error) {
	tools := m.ListAllTools(ctx, false)
	discovered := make([]command.DiscoveredTool, len(tools))
	for i, tool := range tools {
		discovered[i] = command.DiscoveredTool{
			ServerID:    tool.ServerID,
			ServerName:  tool.ServerName,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}
	}
	return discovered, nil
}

// toolsForServer serves from the cache when possible and otherwise
// opens a session to fetch. The fetch runs outside the cache lock;
// concurrent refreshes are harmless and the last writer wins.
func (m *Manager) toolsForServer(ctx context.Context, cfg *ServerConfig, forceRefresh bool) ([]ToolInfo, error) {
	if !forceRefresh {
		if tools, ok := m.cache.get(cfg.ID); ok {
			return tools, nil
		}
	}

	tools, err := m.fetchTools(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m.cache.put(cfg.ID, tools)
	return tools, nil
}

func (m *Manager) fetchTools(ctx context.Context, cfg *ServerConfig) ([]ToolInfo, error) {
	sess, err := m.sessions.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	result, err := sess.client.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		return nil, &voxerrors.ExecutionError{
			Server:  cfg.ID,
			Message: fmt.Sprintf("failed to list tools on %q: %v", cfg.Name, err),
			Cause:   err,
		}
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, tool := range result.Tools {
		tools = append(tools, ToolInfo{
			ServerID:    cfg.ID,
			ServerName:  cfg.Name,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: toolSchemaMap(tool),
		})
	}
	return tools, nil
}

// toolSchemaMap extracts the tool's input schema as a generic map.
func toolSchemaMap(tool mcpproto.Tool) map[string]any {
	var raw []byte
	if len(tool.RawInputSchema) > 0 {
		raw = tool.RawInputSchema
	} else {
		data, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil
		}
		raw = data
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	return schema
}

// CallTool runs a tool on a server over a fresh session. A zero
// timeout means no per-call deadline beyond the caller's context.
// Tool-level failures come back in CallResult.IsError; transport and
// protocol failures come back as errors.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any, timeout time.Duration) (*CallResult, error) {
	cfg, err := m.registry.Config(serverID)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sess, err := m.sessions.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	req := mcpproto.CallToolRequest{
		Params: mcpproto.CallToolParams{
			Name: toolName,
		},
	}
	// Omit the arguments field entirely when empty; some servers
	// reject an explicit empty object.
	if len(arguments) > 0 {
		req.Params.Arguments = arguments
	}

	result, err := sess.client.CallTool(ctx, req)
	if err != nil {
		return nil, &voxerrors.ExecutionError{
			Server:  serverID,
			Tool:    toolName,
			Message: err.Error(),
			Cause:   err,
		}
	}

	return convertCallResult(result), nil
}

func convertCallResult(result *mcpproto.CallToolResult) *CallResult {
	converted := &CallResult{
		IsError:           result.IsError,
		StructuredContent: result.StructuredContent,
	}

	for _, content := range result.Content {
		var item ContentItem
		if text, ok := mcpproto.AsTextContent(content); ok {
			item.Type = text.Type
			item.Text = text.Text
		} else if image, ok := mcpproto.AsImageContent(content); ok {
			item.Type = image.Type
			item.Data = image.Data
			item.MIMEType = image.MIMEType
		} else {
			data, err := json.Marshal(content)
			if err != nil {
				continue
			}
			item.Type = "unknown"
			item.Text = string(data)
		}
		converted.Content = append(converted.Content, item)
	}
	return converted
}
