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

// Package mcp manages MCP server configurations and runs tool
// discovery and tool calls against them over stdio, SSE, and
// streamable-HTTP transports. Sessions are short-lived: each operation
// opens a fresh connection, initializes it, runs, and closes.
package mcp

import "encoding/json"

// Transport types.
const (
	TransportSSE   = "sse"
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Server source types.
const (
	SourceCatalog = "catalog"
	SourceOAuth   = "composio"
	SourceCustom  = "custom"
)

// ServerConfig describes one configured MCP server. Exactly one of
// SSE, HTTP, or Stdio is populated, matching Transport. Secret values
// never appear here; configs reference them via {{placeholder}} syntax
// and SecretFields name the keychain keys.
type ServerConfig struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Enabled   bool   `json:"enabled"`

	// ReadAloud enables spoken summaries of tool results from this
	// server.
	ReadAloud bool `json:"read_aloud,omitempty"`

	SecretFields []SecretField `json:"secret_fields,omitempty"`

	SSE   *SSEConfig   `json:"sse,omitempty"`
	HTTP  *HTTPConfig  `json:"http,omitempty"`
	Stdio *StdioConfig `json:"stdio,omitempty"`

	// OAuthConnectionID marks the server as broker-managed. When set,
	// transport config is ignored and sessions go through the broker's
	// streamable-HTTP endpoint.
	OAuthConnectionID string `json:"oauth_connection_id,omitempty"`

	Source string `json:"source,omitempty"`

	// CatalogID links a catalog-installed server back to its registry
	// entry so duplicate installs can be rejected.
	CatalogID string `json:"catalog_id,omitempty"`
}

// UnmarshalJSON applies defaults: servers are enabled unless explicitly
// disabled.
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	type alias ServerConfig
	aux := struct {
		Enabled *bool `json:"enabled"`
		*alias
	}{alias: (*alias)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Enabled = aux.Enabled == nil || *aux.Enabled
	return nil
}

// SecretKeys returns the keychain key names declared by the config.
func (s *ServerConfig) SecretKeys() []string {
	keys := make([]string, 0, len(s.SecretFields))
	for _, field := range s.SecretFields {
		if field.Key != "" {
			keys = append(keys, field.Key)
		}
	}
	return keys
}

// IsOAuth reports whether sessions are routed through the OAuth broker.
func (s *ServerConfig) IsOAuth() bool {
	return s.OAuthConnectionID != ""
}

// SecretField declares one secret a server needs. Configs may spell it
// as a bare string key or as an object with key and label.
type SecretField struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

// UnmarshalJSON accepts both "API_TOKEN" and {"key": "API_TOKEN", ...}.
func (f *SecretField) UnmarshalJSON(data []byte) error {
	var key string
	if err := json.Unmarshal(data, &key); err == nil {
		f.Key = key
		return nil
	}

	type alias SecretField
	return json.Unmarshal(data, (*alias)(f))
}

// KV is an ordered key/value entry whose value may contain {{secret}}
// placeholders.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SSEConfig configures an SSE transport endpoint.
type SSEConfig struct {
	URL         string `json:"url"`
	Headers     []KV   `json:"headers,omitempty"`
	QueryParams []KV   `json:"query_params,omitempty"`
}

// HTTPConfig configures a streamable-HTTP transport endpoint.
type HTTPConfig struct {
	URL         string `json:"url"`
	Headers     []KV   `json:"headers,omitempty"`
	QueryParams []KV   `json:"query_params,omitempty"`
}

// StdioConfig configures a subprocess transport.
type StdioConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
	Env     []KV     `json:"env,omitempty"`
}

// ServerView is a ServerConfig enriched with runtime secret status for
// API responses. Values stay in the keychain; only presence is exposed.
type ServerView struct {
	ServerConfig
	SecretsSet     map[string]bool `json:"secretsSet"`
	OAuthConnected bool            `json:"oauthConnected,omitempty"`
}

// ToolInfo is one tool discovered on a server.
type ToolInfo struct {
	ServerID    string         `json:"server_id"`
	ServerName  string         `json:"server_name"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ContentItem is one content block from a tool call result.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// CallResult is the raw outcome of a tool call. IsError marks a
// tool-level failure reported inside the protocol result, as opposed to
// transport errors which surface as Go errors.
type CallResult struct {
	IsError           bool          `json:"isError,omitempty"`
	Content           []ContentItem `json:"content,omitempty"`
	StructuredContent any           `json:"structuredContent,omitempty"`
}
