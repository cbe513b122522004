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
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/voxctl/voxctl/internal/secrets"
	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

// serversFile is the on-disk shape of the registry.
type serversFile struct {
	Servers []ServerConfig `json:"servers"`
}

// Registry persists MCP server configurations as JSON and manages the
// secrets declared by them. Secret values live in the OS keychain; the
// JSON file only ever names the keys.
type Registry struct {
	path    string
	secrets *secrets.Store
	logger  *slog.Logger

	mu      sync.RWMutex
	servers map[string]ServerConfig

	// onChange is invoked with a server ID whenever its config or
	// secrets change. Used to invalidate the tool cache.
	onChange func(serverID string)
}

// NewRegistry loads the server registry from path, creating an empty
// file if none exists.
func NewRegistry(path string, secretStore *secrets.Store, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		path:     path,
		secrets:  secretStore,
		logger:   logger,
		servers:  make(map[string]ServerConfig),
		onChange: func(string) {},
	}

	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return r.persist()
	}
	if err != nil {
		return fmt.Errorf("read servers file: %w", err)
	}

	var file serversFile
	if err := json.Unmarshal(data, &file); err != nil {
		r.logger.Warn("could not parse servers file, starting empty",
			"path", r.path, "error", err)
		return nil
	}

	for _, srv := range file.Servers {
		if srv.ID != "" {
			r.servers[srv.ID] = srv
		}
	}
	return nil
}

// persist writes the registry to disk. Caller must hold the lock.
func (r *Registry) persist() error {
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create servers dir: %w", err)
		}
	}

	file := serversFile{Servers: make([]ServerConfig, 0, len(r.servers))}
	for _, srv := range r.servers {
		file.Servers = append(file.Servers, srv)
	}
	sort.Slice(file.Servers, func(i, j int) bool { return file.Servers[i].ID < file.Servers[j].ID })

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode servers: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0600); err != nil {
		return fmt.Errorf("write servers file: %w", err)
	}
	return nil
}

// setOnChange registers the config-change hook.
func (r *Registry) setOnChange(fn func(serverID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn != nil {
		r.onChange = fn
	}
}

// List returns all server configs with secret presence flags.
func (r *Registry) List() []ServerView {
	r.mu.RLock()
	configs := make([]ServerConfig, 0, len(r.servers))
	for _, srv := range r.servers {
		configs = append(configs, srv)
	}
	r.mu.RUnlock()

	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })

	views := make([]ServerView, len(configs))
	for i, cfg := range configs {
		views[i] = r.view(cfg)
	}
	return views
}

// Get returns one server config with secret presence flags.
func (r *Registry) Get(serverID string) (*ServerView, error) {
	cfg, err := r.Config(serverID)
	if err != nil {
		return nil, err
	}
	view := r.view(*cfg)
	return &view, nil
}

// Config returns the raw server config without secret flags.
func (r *Registry) Config(serverID string) (*ServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.servers[serverID]
	if !ok {
		return nil, &voxerrors.NotFoundError{Resource: "server", ID: serverID}
	}
	return &cfg, nil
}

func (r *Registry) view(cfg ServerConfig) ServerView {
	return ServerView{
		ServerConfig:   cfg,
		SecretsSet:     r.secrets.ListFlags(cfg.ID, cfg.SecretKeys()),
		OAuthConnected: cfg.IsOAuth(),
	}
}

// validateTransportConfig checks that exactly one transport section is
// set and that it matches the declared transport. OAuth servers carry
// no transport config, so they are exempt.
func validateTransportConfig(cfg ServerConfig) error {
	if cfg.IsOAuth() {
		return nil
	}
	sections := map[string]bool{
		TransportSSE:   cfg.SSE != nil,
		TransportHTTP:  cfg.HTTP != nil,
		TransportStdio: cfg.Stdio != nil,
	}
	if !sections[cfg.Transport] {
		return &voxerrors.ConfigError{
			Key:    "transport",
			Reason: fmt.Sprintf("%s transport requires a %s section", cfg.Transport, cfg.Transport),
		}
	}
	for transport, set := range sections {
		if set && transport != cfg.Transport {
			return &voxerrors.ConfigError{
				Key:    "transport",
				Reason: fmt.Sprintf("%s section does not belong on a %s server", transport, cfg.Transport),
			}
		}
	}
	return nil
}

// Upsert creates or replaces a server config. A missing ID is
// generated. The tool cache entry for the server is invalidated.
func (r *Registry) Upsert(cfg ServerConfig) (*ServerView, error) {
	if cfg.Name == "" {
		return nil, &voxerrors.ConfigError{Key: "name", Reason: "server name is required"}
	}
	if cfg.Transport == "" && !cfg.IsOAuth() {
		return nil, &voxerrors.ConfigError{Key: "transport", Reason: "server transport is required"}
	}
	switch cfg.Transport {
	case "", TransportSSE, TransportHTTP, TransportStdio:
	default:
		return nil, &voxerrors.ConfigError{
			Key:    "transport",
			Reason: fmt.Sprintf("unsupported transport %q", cfg.Transport),
		}
	}
	if err := validateTransportConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.ID == "" {
		cfg.ID = newServerID()
	}

	r.mu.Lock()
	previous, existed := r.servers[cfg.ID]
	r.servers[cfg.ID] = cfg
	err := r.persist()
	if err != nil {
		if existed {
			r.servers[cfg.ID] = previous
		} else {
			delete(r.servers, cfg.ID)
		}
	}
	onChange := r.onChange
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}

	onChange(cfg.ID)
	view := r.view(cfg)
	return &view, nil
}

// Delete removes a server config and purges its keychain secrets.
func (r *Registry) Delete(serverID string) error {
	r.mu.Lock()
	cfg, existed := r.servers[serverID]
	if existed {
		delete(r.servers, serverID)
		if err := r.persist(); err != nil {
			r.servers[serverID] = cfg
			r.mu.Unlock()
			return err
		}
	}
	onChange := r.onChange
	r.mu.Unlock()

	if !existed {
		return &voxerrors.NotFoundError{Resource: "server", ID: serverID}
	}

	if err := r.secrets.DeleteAll(serverID, cfg.SecretKeys()); err != nil {
		r.logger.Warn("could not purge all secrets for deleted server",
			"server_id", serverID, "error", err)
	}

	onChange(serverID)
	return nil
}

// UpdateSecrets stores the given secret values for a server. Empty
// values delete the corresponding secrets. Returns presence flags for
// the touched keys. The tool cache is invalidated since credentials can
// change the visible tools.
func (r *Registry) UpdateSecrets(serverID string, values map[string]string) (map[string]bool, error) {
	r.mu.RLock()
	_, exists := r.servers[serverID]
	onChange := r.onChange
	r.mu.RUnlock()

	if !exists {
		return nil, &voxerrors.NotFoundError{Resource: "server", ID: serverID}
	}

	keys := make([]string, 0, len(values))
	for key, value := range values {
		if err := r.secrets.Set(serverID, key, value); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	onChange(serverID)
	return r.secrets.ListFlags(serverID, keys), nil
}

// SecretStatus reports which declared secrets have stored values.
func (r *Registry) SecretStatus(serverID string) (map[string]bool, error) {
	cfg, err := r.Config(serverID)
	if err != nil {
		return nil, err
	}
	return r.secrets.ListFlags(serverID, cfg.SecretKeys()), nil
}

// enabledConfigs returns all enabled server configs.
func (r *Registry) enabledConfigs() []ServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := make([]ServerConfig, 0, len(r.servers))
	for _, srv := range r.servers {
		if srv.Enabled {
			configs = append(configs, srv)
		}
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs
}

func newServerID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}
