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

// Package broker talks to the hosted OAuth broker (Composio) that
// fronts OAuth-authenticated MCP servers. The broker owns the OAuth
// dance; voxctl only ever sees a connection ID, its status, and the
// streamable-HTTP MCP endpoint to call once the connection is active.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxctl/voxctl/pkg/httpclient"
)

// Default broker endpoints.
const (
	DefaultAPIBase = "https://backend.composio.dev/api"
	DefaultMCPBase = "https://backend.composio.dev/v3/mcp"
)

// mcpURLKeys are the metadata keys that may carry a ready-made MCP
// endpoint URL, in priority order.
var mcpURLKeys = []string{
	"mcpEndpoint",
	"mcp_endpoint",
	"mcpServerUrl",
	"mcp_server_url",
	"mcpUrl",
	"mcp_url",
}

// mcpIDKeys are the metadata keys that may carry an MCP server ID from
// which an endpoint can be constructed.
var mcpIDKeys = []string{
	"mcpServerId",
	"mcp_server_id",
	"mcpConfigId",
	"mcp_config_id",
	"serverId",
	"server_id",
}

// Connection describes an OAuth connection held by the broker.
type Connection struct {
	ConnectionID  string `json:"connectionId"`
	IntegrationID string `json:"integrationId,omitempty"`
	Status        string `json:"status"`
	MCPEndpoint   string `json:"mcpEndpoint,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// IsActive reports whether the connection is usable. Status comparison
// is case-insensitive; brokers report both "ACTIVE" and "active".
func (c *Connection) IsActive() bool {
	return strings.EqualFold(c.Status, "active")
}

// Client is an HTTP client for the OAuth broker API.
type Client struct {
	apiBase string
	mcpBase string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURLs overrides the broker API and MCP base URLs.
func WithBaseURLs(apiBase, mcpBase string) Option {
	return func(c *Client) {
		c.apiBase = strings.TrimRight(apiBase, "/")
		c.mcpBase = strings.TrimRight(mcpBase, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a broker client authenticated with apiKey.
func NewClient(apiKey string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("broker API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		apiBase: DefaultAPIBase,
		mcpBase: DefaultMCPBase,
		apiKey:  apiKey,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = 30 * time.Second
		cfg.UserAgent = "voxctl-broker/1.0"
		hc, err := httpclient.New(cfg)
		if err != nil {
			return nil, err
		}
		c.http = hc
	}

	return c, nil
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values) (map[string]any, error) {
	u := c.apiBase + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("broker response read: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Error("broker API error",
			"status", resp.StatusCode, "method", method, "path", path)
		return nil, fmt.Errorf("broker API error %d for %s %s", resp.StatusCode, method, path)
	}

	if len(body) == 0 {
		return map[string]any{}, nil
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("invalid JSON response from broker API: %w", err)
	}
	return result, nil
}

// GetConnection fetches a connection's status and, when active,
// resolves its MCP endpoint.
func (c *Client) GetConnection(ctx context.Context, connectionID string) (*Connection, error) {
	account, err := c.request(ctx, http.MethodGet, "/v3/connected_accounts/"+url.PathEscape(connectionID), nil)
	if err != nil {
		return nil, err
	}

	status := stringValue(account, "status")
	if status == "" {
		status = "pending"
	}

	integrationID := stringValue(account, "integrationId")
	if integrationID == "" {
		integrationID = stringValue(account, "appName")
	}

	entityID := stringValue(account, "entityId")
	if entityID == "" {
		entityID = stringValue(account, "userId")
	}
	if entityID == "" {
		entityID = "default"
	}

	conn := &Connection{
		ConnectionID:  connectionID,
		IntegrationID: integrationID,
		Status:        status,
		CreatedAt:     stringValue(account, "createdAt"),
	}

	if conn.IsActive() {
		conn.MCPEndpoint = c.resolveEndpoint(ctx, connectionID, account, entityID)
	}

	return conn, nil
}

// DeleteConnection revokes a connection at the broker.
func (c *Client) DeleteConnection(ctx context.Context, connectionID string) error {
	_, err := c.request(ctx, http.MethodDelete, "/v3/connected_accounts/"+url.PathEscape(connectionID), nil)
	return err
}

// ValidateAPIKey checks whether the configured key is accepted.
func (c *Client) ValidateAPIKey(ctx context.Context) bool {
	_, err := c.request(ctx, http.MethodGet, "/v3/mcp/servers", nil)
	return err == nil
}

// resolveEndpoint determines the MCP endpoint for an active connection.
// Priority: endpoint URL in the account metadata, then an endpoint
// built from the broker's MCP server record, then the legacy
// connection-based path.
func (c *Client) resolveEndpoint(ctx context.Context, connectionID string, account map[string]any, entityID string) string {
	if endpoint := deriveEndpointFromMetadata(account, entityID); endpoint != "" {
		return endpoint
	}

	if serverInfo := c.mcpServerForConnection(ctx, connectionID); serverInfo != nil {
		if endpoint := c.buildHTTPEndpoint(serverInfo, entityID); endpoint != "" {
			return endpoint
		}
	}

	return ensureUserQueryParam(c.mcpBase+"/"+connectionID+"/mcp", entityID)
}

// mcpServerForConnection looks up the broker-side MCP server record for
// a connection. Failures are logged and treated as "not found".
func (c *Client) mcpServerForConnection(ctx context.Context, connectionID string) map[string]any {
	params := url.Values{"connected_account_id": {connectionID}}
	data, err := c.request(ctx, http.MethodGet, "/v3/mcp/servers", params)
	if err != nil {
		c.logger.Warn("failed to fetch MCP server for connection",
			"connection_id", connectionID, "error", err)
		return nil
	}

	items, _ := data["items"].([]any)
	if len(items) == 0 {
		return nil
	}
	first, _ := items[0].(map[string]any)
	return first
}

// buildHTTPEndpoint constructs a streamable-HTTP endpoint from a broker
// MCP server record. The transport query parameter is forced to
// streamable-http; OAuth connections never use SSE.
func (c *Client) buildHTTPEndpoint(serverInfo map[string]any, entityID string) string {
	rawURL := firstString(serverInfo, "mcp_url", "mcpUrl", "mcpEndpoint", "mcp_endpoint")
	serverID := firstString(serverInfo, "id", "serverId")

	var base string
	query := url.Values{}

	if rawURL != "" {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return ""
		}
		query = parsed.Query()
		parsed.RawQuery = ""
		parsed.Fragment = ""
		base = strings.TrimRight(parsed.String(), "/")
	} else if serverID != "" {
		base = c.mcpBase + "/" + serverID
	}

	if base == "" {
		return ""
	}
	if !strings.HasSuffix(base, "/mcp") {
		base += "/mcp"
	}

	query.Set("transport", "streamable-http")
	if entityID != "" {
		query.Set("user_id", entityID)
	}

	return base + "?" + query.Encode()
}

// deriveEndpointFromMetadata returns a ready-made endpoint from the
// connection metadata, if one of the known URL keys is present.
func deriveEndpointFromMetadata(account map[string]any, entityID string) string {
	for _, key := range mcpURLKeys {
		if value := stringValue(account, key); value != "" {
			return ensureUserQueryParam(value, entityID)
		}
	}
	for _, key := range mcpIDKeys {
		if serverID := stringValue(account, key); serverID != "" {
			return ensureUserQueryParam(DefaultMCPBase+"/"+serverID+"/mcp", entityID)
		}
	}
	return ""
}

// ensureUserQueryParam appends user_id to the URL unless already set.
func ensureUserQueryParam(rawURL, userID string) string {
	if userID == "" {
		return rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	if query.Has("user_id") {
		return rawURL
	}
	query.Set("user_id", userID)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func stringValue(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringValue(m, key); s != "" {
			return s
		}
	}
	return ""
}
