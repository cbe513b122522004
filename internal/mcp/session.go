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
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/voxctl/voxctl/internal/broker"
	"github.com/voxctl/voxctl/internal/secrets"
	"github.com/voxctl/voxctl/internal/template"
	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

// ConnectionResolver resolves OAuth broker connections. Satisfied by
// *broker.Client.
type ConnectionResolver interface {
	GetConnection(ctx context.Context, connectionID string) (*broker.Connection, error)
}

// sessionFactory opens short-lived MCP client sessions for server
// configs: resolve secrets, build the transport, start, initialize.
type sessionFactory struct {
	secrets *secrets.Store
	logger  *slog.Logger

	// resolver is set lazily per call when a broker API key exists.
	newResolver func(apiKey string) (ConnectionResolver, error)
}

func newSessionFactory(secretStore *secrets.Store, logger *slog.Logger) *sessionFactory {
	return &sessionFactory{
		secrets: secretStore,
		logger:  logger,
		newResolver: func(apiKey string) (ConnectionResolver, error) {
			return broker.NewClient(apiKey, logger)
		},
	}
}

// session wraps an initialized MCP client connection.
type session struct {
	client *client.Client
}

func (s *session) close() {
	_ = s.client.Close()
}

// open builds the transport for a server config, starts the client,
// and runs the initialize handshake. The caller must close the session.
func (f *sessionFactory) open(ctx context.Context, cfg *ServerConfig) (*session, error) {
	if !cfg.Enabled {
		return nil, &voxerrors.ConfigError{
			Key:    cfg.ID,
			Reason: fmt.Sprintf("server %q is disabled", cfg.Name),
		}
	}

	trans, err := f.buildTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := client.NewClient(trans)
	if err := c.Start(ctx); err != nil {
		return nil, &voxerrors.ExecutionError{
			Server:  cfg.ID,
			Message: fmt.Sprintf("failed to connect to server %q: %v", cfg.Name, err),
			Cause:   err,
		}
	}

	initReq := mcpproto.InitializeRequest{
		Params: mcpproto.InitializeParams{
			ProtocolVersion: mcpproto.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcpproto.ClientCapabilities{},
			ClientInfo: mcpproto.Implementation{
				Name:    "voxctl",
				Version: "0.1.0",
			},
		},
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, &voxerrors.ExecutionError{
			Server:  cfg.ID,
			Message: fmt.Sprintf("initialize failed for server %q: %v", cfg.Name, err),
			Cause:   err,
		}
	}

	return &session{client: c}, nil
}

func (f *sessionFactory) buildTransport(ctx context.Context, cfg *ServerConfig) (transport.Interface, error) {
	if cfg.IsOAuth() {
		return f.buildOAuthTransport(ctx, cfg)
	}

	secretValues := f.resolveSecrets(cfg)

	switch cfg.Transport {
	case TransportSSE:
		if cfg.SSE == nil || cfg.SSE.URL == "" {
			return nil, &voxerrors.ConfigError{
				Key:    cfg.ID,
				Reason: fmt.Sprintf("SSE server %q is missing a URL", cfg.Name),
			}
		}
		endpoint := applyQueryParams(cfg.SSE.URL, renderKVs(cfg.SSE.QueryParams, secretValues))
		headers := renderKVs(cfg.SSE.Headers, secretValues)
		t, err := transport.NewSSE(endpoint, transport.WithHeaders(headers))
		if err != nil {
			return nil, &voxerrors.ConfigError{Key: cfg.ID, Reason: "invalid SSE endpoint", Cause: err}
		}
		return t, nil

	case TransportHTTP:
		if cfg.HTTP == nil || cfg.HTTP.URL == "" {
			return nil, &voxerrors.ConfigError{
				Key:    cfg.ID,
				Reason: fmt.Sprintf("HTTP server %q is missing a URL", cfg.Name),
			}
		}
		endpoint := applyQueryParams(cfg.HTTP.URL, renderKVs(cfg.HTTP.QueryParams, secretValues))
		headers := renderKVs(cfg.HTTP.Headers, secretValues)
		t, err := transport.NewStreamableHTTP(endpoint, transport.WithHTTPHeaders(headers))
		if err != nil {
			return nil, &voxerrors.ConfigError{Key: cfg.ID, Reason: "invalid HTTP endpoint", Cause: err}
		}
		return t, nil

	case TransportStdio:
		if cfg.Stdio == nil || cfg.Stdio.Command == "" {
			return nil, &voxerrors.ConfigError{
				Key:    cfg.ID,
				Reason: fmt.Sprintf("stdio server %q is missing a command", cfg.Name),
			}
		}
		env := renderedEnv(cfg.Stdio.Env, secretValues)
		if cfg.Stdio.Cwd != "" {
			return transport.NewStdioWithOptions(cfg.Stdio.Command, env, cfg.Stdio.Args,
				transport.WithCommandFunc(stdioCommandFunc(cfg.Stdio.Cwd))), nil
		}
		return transport.NewStdio(cfg.Stdio.Command, env, cfg.Stdio.Args...), nil

	default:
		return nil, &voxerrors.ConfigError{
			Key:    cfg.ID,
			Reason: fmt.Sprintf("unsupported transport %q for server %q", cfg.Transport, cfg.Name),
		}
	}
}

// buildOAuthTransport resolves the broker connection and returns a
// streamable-HTTP transport against the broker endpoint, authenticated
// with the broker API key. SSE is never used for OAuth servers.
func (f *sessionFactory) buildOAuthTransport(ctx context.Context, cfg *ServerConfig) (transport.Interface, error) {
	apiKey, ok, err := f.secrets.BrokerAPIKey()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &voxerrors.ConfigError{
			Key:    cfg.ID,
			Reason: "OAuth broker API key not configured",
		}
	}

	resolver, err := f.newResolver(apiKey)
	if err != nil {
		return nil, err
	}

	conn, err := resolver.GetConnection(ctx, cfg.OAuthConnectionID)
	if err != nil {
		return nil, &voxerrors.ConfigError{
			Key:    cfg.ID,
			Reason: "failed to resolve OAuth connection",
			Cause:  err,
		}
	}
	if !conn.IsActive() {
		return nil, &voxerrors.ConfigError{
			Key:    cfg.ID,
			Reason: fmt.Sprintf("OAuth connection not active: %s", conn.Status),
		}
	}
	if conn.MCPEndpoint == "" {
		return nil, &voxerrors.ConfigError{
			Key:    cfg.ID,
			Reason: fmt.Sprintf("no MCP endpoint for OAuth server %q", cfg.Name),
		}
	}

	headers := map[string]string{"x-api-key": apiKey}
	t, err := transport.NewStreamableHTTP(conn.MCPEndpoint, transport.WithHTTPHeaders(headers))
	if err != nil {
		return nil, &voxerrors.ConfigError{Key: cfg.ID, Reason: "invalid broker MCP endpoint", Cause: err}
	}
	return t, nil
}

// resolveSecrets loads the server's declared secrets from the keychain.
// Missing secrets are logged as a warning, not an error; the session
// proceeds and unresolved placeholders render empty.
func (f *sessionFactory) resolveSecrets(cfg *ServerConfig) map[string]string {
	values, missing, err := f.secrets.ResolveContext(cfg.ID, cfg.SecretKeys())
	if err != nil {
		f.logger.Warn("secret lookup failed", "server_id", cfg.ID, "error", err)
		return map[string]string{}
	}
	if len(missing) > 0 {
		f.logger.Warn("missing secrets for server",
			"server", cfg.Name, "keys", strings.Join(missing, ", "))
	}
	return values
}

// renderKVs renders {{secret}} placeholders in KV entries and returns
// them as a map. Entries without a key are skipped.
func renderKVs(entries []KV, secretValues map[string]string) map[string]string {
	rendered := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.Key == "" {
			continue
		}
		rendered[entry.Key] = template.RenderSecrets(entry.Value, secretValues)
	}
	return rendered
}

// stdioCommandFunc builds the subprocess for a stdio server that runs
// in a specific working directory. The default transport spawner merges
// os.Environ with the configured env, so the same merge happens here.
func stdioCommandFunc(cwd string) transport.CommandFunc {
	return func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = append(os.Environ(), env...)
		cmd.Dir = cwd
		return cmd, nil
	}
}

// renderedEnv renders stdio env entries into KEY=VALUE form.
func renderedEnv(entries []KV, secretValues map[string]string) []string {
	env := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Key == "" {
			continue
		}
		env = append(env, entry.Key+"="+template.RenderSecrets(entry.Value, secretValues))
	}
	return env
}

// applyQueryParams merges rendered query parameters into a URL.
// Templated values override parameters already present in the URL.
func applyQueryParams(rawURL string, params map[string]string) string {
	if len(params) == 0 {
		return rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	query := parsed.Query()
	for key, value := range params {
		query.Set(key, value)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
