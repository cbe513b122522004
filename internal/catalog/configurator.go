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

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxctl/voxctl/internal/mcp"
	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

// InstallPayload carries the user's choices when installing a catalog
// entry as an MCP server. Secrets go straight to the keychain and are
// never written into the server config.
type InstallPayload struct {
	// ID names an existing server to update; empty installs a new one.
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`

	Transport string `json:"transport,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`

	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`

	Env         []mcp.KV `json:"env,omitempty"`
	Headers     []mcp.KV `json:"headers,omitempty"`
	QueryParams []mcp.KV `json:"query_params,omitempty"`

	Secrets map[string]string `json:"secrets,omitempty"`

	ForceRefresh bool `json:"force_refresh,omitempty"`
}

// Installer turns catalog entries into configured MCP servers.
type Installer struct {
	service  *Service
	registry *mcp.Registry
	logger   *slog.Logger
}

// NewInstaller builds an Installer over the catalog and the server
// registry.
func NewInstaller(service *Service, registry *mcp.Registry, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{service: service, registry: registry, logger: logger}
}

// Install configures the catalog entry as an MCP server and stores any
// provided secrets in the keychain. A fresh install of an already
// installed entry is rejected; pass payload.ID to update it instead.
func (i *Installer) Install(ctx context.Context, entryID string, payload InstallPayload) (*mcp.ServerView, error) {
	if payload.ForceRefresh {
		if err := i.service.RefreshAll(ctx); err != nil {
			return nil, err
		}
	}

	entry, err := i.service.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if payload.ID == "" {
		if existing := i.findInstalled(entry.ID); existing != "" {
			return nil, &voxerrors.ConfigError{
				Key: "catalog.install",
				Reason: fmt.Sprintf("You already have a connection to %s (server %q). Edit or remove it instead of installing again.",
					entry.Name, existing),
			}
		}
	}

	cfg, err := buildServerConfig(entry, payload)
	if err != nil {
		return nil, err
	}

	view, err := i.registry.Upsert(*cfg)
	if err != nil {
		return nil, err
	}

	if len(payload.Secrets) > 0 {
		if _, err := i.registry.UpdateSecrets(view.ID, payload.Secrets); err != nil {
			return nil, fmt.Errorf("server saved but storing secrets failed: %w", err)
		}
		view, err = i.registry.Get(view.ID)
		if err != nil {
			return nil, err
		}
	}

	i.logger.Info("installed catalog server", "entry", entry.ID, "server", view.ID,
		"transport", cfg.Transport)
	return view, nil
}

func (i *Installer) findInstalled(catalogID string) string {
	for _, view := range i.registry.List() {
		if view.Source == mcp.SourceCatalog && view.CatalogID == catalogID {
			return view.ID
		}
	}
	return ""
}

// buildServerConfig converts a catalog entry plus user overrides into a
// ServerConfig. Secret values are referenced with {{KEY}} placeholders;
// the actual values live in the keychain.
func buildServerConfig(entry *Entry, payload InstallPayload) (*mcp.ServerConfig, error) {
	transport, err := resolveTransport(entry, payload)
	if err != nil {
		return nil, err
	}

	name := payload.Name
	if name == "" {
		name = entry.Name
	}

	cfg := &mcp.ServerConfig{
		ID:        payload.ID,
		Name:      name,
		Transport: transport,
		Enabled:   payload.Enabled == nil || *payload.Enabled,
		Source:    mcp.SourceCatalog,
		CatalogID: entry.ID,
	}

	headers, queryParams := authTemplates(entry)
	headers = mergeKVs(headers, payload.Headers)
	queryParams = mergeKVs(queryParams, payload.QueryParams)

	switch transport {
	case mcp.TransportHTTP, mcp.TransportSSE:
		endpoint := payload.Endpoint
		if endpoint == "" && entry.DefaultEndpoint != nil {
			endpoint = entry.DefaultEndpoint.URL
		}
		if endpoint == "" {
			return nil, &voxerrors.ConfigError{
				Key:    "catalog.endpoint",
				Reason: fmt.Sprintf("catalog entry %s has no endpoint URL; provide one", entry.ID),
			}
		}
		if transport == mcp.TransportHTTP {
			cfg.HTTP = &mcp.HTTPConfig{URL: endpoint, Headers: headers, QueryParams: queryParams}
		} else {
			cfg.SSE = &mcp.SSEConfig{URL: endpoint, Headers: headers, QueryParams: queryParams}
		}
	case mcp.TransportStdio:
		if payload.Command == "" {
			return nil, &voxerrors.ConfigError{
				Key:    "catalog.command",
				Reason: "stdio transport requires a command",
			}
		}
		env := payload.Env
		for _, field := range entry.Auth.Fields {
			env = append(env, mcp.KV{Key: field.Key, Value: "{{" + field.Key + "}}"})
		}
		cfg.Stdio = &mcp.StdioConfig{
			Command: payload.Command,
			Args:    payload.Args,
			Cwd:     payload.Cwd,
			Env:     dedupeKVs(env),
		}
	}

	for _, field := range entry.Auth.Fields {
		cfg.SecretFields = append(cfg.SecretFields, mcp.SecretField{Key: field.Key, Label: field.Label})
	}

	return cfg, nil
}

// resolveTransport maps a registry transport name onto a supported
// transport, preferring the payload's explicit choice.
func resolveTransport(entry *Entry, payload InstallPayload) (string, error) {
	raw := payload.Transport
	if raw == "" && entry.DefaultEndpoint != nil {
		raw = entry.DefaultEndpoint.Transport
	}
	if raw == "" && len(entry.Transports) > 0 {
		raw = entry.Transports[0]
	}

	switch strings.ToLower(raw) {
	case "streamable-http", "streamable_http", "http":
		return mcp.TransportHTTP, nil
	case "sse":
		return mcp.TransportSSE, nil
	case "stdio":
		return mcp.TransportStdio, nil
	default:
		return "", &voxerrors.ConfigError{
			Key:    "catalog.transport",
			Reason: fmt.Sprintf("unsupported transport %q for catalog entry %s", raw, entry.ID),
		}
	}
}

// authTemplates turns the entry's auth fields into header and query
// templates that reference keychain secrets.
func authTemplates(entry *Entry) (headers, queryParams []mcp.KV) {
	for _, field := range entry.Auth.Fields {
		placeholder := "{{" + field.Key + "}}"
		switch field.Location {
		case "query":
			target := field.Target
			if target == "" {
				target = strings.ToLower(field.Key)
			}
			queryParams = append(queryParams, mcp.KV{Key: target, Value: placeholder})
		default:
			target := field.Target
			value := placeholder
			bearer := entry.Auth.Type == AuthBearerHeader ||
				strings.EqualFold(field.Scheme, "bearer")
			if bearer {
				value = "Bearer " + placeholder
			}
			if target == "" {
				if bearer {
					target = "Authorization"
				} else {
					target = "X-API-Key"
				}
			}
			headers = append(headers, mcp.KV{Key: target, Value: value})
		}
	}
	return headers, queryParams
}

// mergeKVs overlays user-provided pairs on top of generated ones; the
// user's value for a key wins.
func mergeKVs(base, overrides []mcp.KV) []mcp.KV {
	merged := make([]mcp.KV, 0, len(base)+len(overrides))
	overridden := map[string]bool{}
	for _, kv := range overrides {
		overridden[kv.Key] = true
	}
	for _, kv := range base {
		if !overridden[kv.Key] {
			merged = append(merged, kv)
		}
	}
	return append(merged, overrides...)
}

func dedupeKVs(pairs []mcp.KV) []mcp.KV {
	seen := map[string]bool{}
	var out []mcp.KV
	for _, kv := range pairs {
		if kv.Key == "" || seen[kv.Key] {
			continue
		}
		seen[kv.Key] = true
		out = append(out, kv)
	}
	return out
}
