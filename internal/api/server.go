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

// Package api serves the local configuration and control API. All
// responses share one JSON envelope: {"success": true, ...} on success
// and {"success": false, "error": "..."} on failure.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxctl/voxctl/internal/broker"
	"github.com/voxctl/voxctl/internal/catalog"
	"github.com/voxctl/voxctl/internal/command"
	"github.com/voxctl/voxctl/internal/config"
	"github.com/voxctl/voxctl/internal/executor"
	"github.com/voxctl/voxctl/internal/history"
	"github.com/voxctl/voxctl/internal/mcp"
	"github.com/voxctl/voxctl/internal/parser"
	"github.com/voxctl/voxctl/internal/secrets"
	"github.com/voxctl/voxctl/internal/task"
	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

// watcherTask is the supervisor name of the transcript watcher.
const watcherTask = "watcher"

// TranscriptParser matches transcripts to commands.
type TranscriptParser interface {
	Parse(ctx context.Context, transcript string) *parser.ParseResult
}

// CommandRunner executes commands with history logging.
type CommandRunner interface {
	Run(ctx context.Context, commandID string, parameters map[string]any, transcript string) (*executor.Result, int64)
}

// Deps are the collaborators the API server exposes.
type Deps struct {
	Config    *config.Config
	Commands  *command.Store
	Manager   *mcp.Manager
	Catalog   *catalog.Service
	Installer *catalog.Installer
	History   *history.Store
	Parser    TranscriptParser
	Runner    CommandRunner
	Secrets   *secrets.Store

	// Supervisor and WatcherFn drive the transcript watcher from the
	// monitor endpoints. WatcherFn may be nil when the watcher is not
	// configured.
	Supervisor *task.Supervisor
	WatcherFn  task.Fn
}

// Server is the local HTTP API.
type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer wires all routes.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe runs the API on the configured port until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/config", s.handleConfig)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/commands", s.handleListCommands)
	s.mux.HandleFunc("POST /api/commands", s.handleCreateCommand)
	s.mux.HandleFunc("POST /api/commands/test", s.handleTestCommand)
	s.mux.HandleFunc("POST /api/commands/execute", s.handleExecuteCommand)
	s.mux.HandleFunc("GET /api/commands/{id}", s.handleGetCommand)
	s.mux.HandleFunc("PUT /api/commands/{id}", s.handleUpdateCommand)
	s.mux.HandleFunc("DELETE /api/commands/{id}", s.handleDeleteCommand)
	s.mux.HandleFunc("PATCH /api/commands/{id}/toggle", s.handleToggleCommand)

	s.mux.HandleFunc("GET /api/mcp/servers", s.handleListServers)
	s.mux.HandleFunc("POST /api/mcp/servers", s.handleUpsertServer)
	s.mux.HandleFunc("DELETE /api/mcp/servers/{id}", s.handleDeleteServer)
	s.mux.HandleFunc("PUT /api/mcp/servers/{id}/secrets", s.handleUpdateSecrets)
	s.mux.HandleFunc("POST /api/mcp/servers/{id}/test", s.handleTestServer)
	s.mux.HandleFunc("GET /api/mcp/servers/{id}/tools", s.handleServerTools)
	s.mux.HandleFunc("GET /api/mcp/tools", s.handleAllTools)

	// Catalog entry ids contain slashes, so these use trailing
	// wildcards and parse the action suffix by hand.
	s.mux.HandleFunc("GET /api/mcp/catalog", s.handleSearchCatalog)
	s.mux.HandleFunc("GET /api/mcp/catalog/{rest...}", s.handleGetCatalogEntry)
	s.mux.HandleFunc("POST /api/mcp/catalog/{rest...}", s.handleConfigureCatalogEntry)

	s.mux.HandleFunc("GET /api/logs", s.handleListLogs)
	s.mux.HandleFunc("GET /api/logs/{id}", s.handleGetLog)

	s.mux.HandleFunc("GET /api/monitor/status", s.handleMonitorStatus)
	s.mux.HandleFunc("POST /api/monitor/start", s.handleMonitorStart)
	s.mux.HandleFunc("POST /api/monitor/stop", s.handleMonitorStop)

	s.mux.HandleFunc("GET /api/broker/settings", s.handleBrokerSettings)
	s.mux.HandleFunc("PUT /api/broker/settings", s.handleUpdateBrokerSettings)
	s.mux.HandleFunc("DELETE /api/broker/settings", s.handleDeleteBrokerSettings)
}

// --- response helpers ---

func (s *Server) success(w http.ResponseWriter, status int, data map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range data {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}

// failErr maps typed errors onto HTTP status codes.
func (s *Server) failErr(w http.ResponseWriter, err error) {
	var (
		notFound   *voxerrors.NotFoundError
		validation *voxerrors.ValidationError
		cfgErr     *voxerrors.ConfigError
	)
	switch {
	case errors.As(err, &notFound):
		s.fail(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation), errors.As(err, &cfgErr):
		s.fail(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.fail(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func queryBool(r *http.Request, key string) bool {
	return strings.EqualFold(r.URL.Query().Get(key), "true")
}

// --- meta ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.success(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.success(w, http.StatusOK, map[string]any{"config": s.deps.Config.Summary()})
}

// --- commands ---

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	commands := s.deps.Commands.All(r.Context(), true)
	s.success(w, http.StatusOK, map[string]any{"commands": commands})
}

func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	var cmd command.Command
	if err := decodeJSON(r, &cmd); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	created, err := s.deps.Commands.Add(cmd)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusCreated, map[string]any{"command": created})
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.deps.Commands.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"command": cmd})
}

func (s *Server) handleUpdateCommand(w http.ResponseWriter, r *http.Request) {
	var cmd command.Command
	if err := decodeJSON(r, &cmd); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := s.deps.Commands.Update(r.PathValue("id"), cmd)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"command": updated})
}

func (s *Server) handleDeleteCommand(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Commands.Delete(r.PathValue("id")); err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"message": "Command deleted"})
}

func (s *Server) handleToggleCommand(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.deps.Commands.Toggle(r.PathValue("id"))
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"enabled": enabled})
}

func (s *Server) handleTestCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &body); err != nil || strings.TrimSpace(body.Text) == "" {
		s.fail(w, http.StatusBadRequest, "No text provided")
		return
	}
	if s.deps.Parser == nil {
		s.fail(w, http.StatusBadRequest, "Parsing requires ANTHROPIC_API_KEY to be configured")
		return
	}
	result := s.deps.Parser.Parse(r.Context(), body.Text)
	s.success(w, http.StatusOK, map[string]any{"parse_result": result})
}

func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CommandID          string         `json:"command_id"`
		Parameters         map[string]any `json:"parameters"`
		OriginalTranscript string         `json:"original_transcript"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.CommandID == "" {
		s.fail(w, http.StatusBadRequest, "No command_id provided")
		return
	}

	result, logID := s.deps.Runner.Run(r.Context(), body.CommandID, body.Parameters, body.OriginalTranscript)
	s.success(w, http.StatusOK, map[string]any{"result": result, "log_id": logID})
}

// --- MCP servers ---

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	s.success(w, http.StatusOK, map[string]any{"servers": s.deps.Manager.Registry().List()})
}

func (s *Server) handleUpsertServer(w http.ResponseWriter, r *http.Request) {
	var cfg mcp.ServerConfig
	if err := decodeJSON(r, &cfg); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	isNew := cfg.ID == ""
	view, err := s.deps.Manager.Registry().Upsert(cfg)
	if err != nil {
		s.failErr(w, err)
		return
	}
	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	s.success(w, status, map[string]any{"server": view})
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Manager.Registry().Delete(r.PathValue("id")); err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"message": "Server deleted"})
}

func (s *Server) handleUpdateSecrets(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := decodeJSON(r, &values); err != nil {
		s.fail(w, http.StatusBadRequest, "Secrets payload must be an object")
		return
	}
	flags, err := s.deps.Manager.Registry().UpdateSecrets(r.PathValue("id"), values)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"secretsSet": flags})
}

func (s *Server) handleTestServer(w http.ResponseWriter, r *http.Request) {
	tools, err := s.deps.Manager.ListTools(r.Context(), r.PathValue("id"), true)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{
		"toolsCount": len(tools),
		"message":    fmt.Sprintf("Connected successfully. %d tool(s) available.", len(tools)),
	})
}

func (s *Server) handleServerTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.deps.Manager.ListTools(r.Context(), r.PathValue("id"), queryBool(r, "refresh"))
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) handleAllTools(w http.ResponseWriter, r *http.Request) {
	tools := s.deps.Manager.ListAllTools(r.Context(), queryBool(r, "refresh"))
	s.success(w, http.StatusOK, map[string]any{"tools": tools})
}

// --- catalog ---

func (s *Server) handleSearchCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Catalog.Search(r.Context(),
		r.URL.Query().Get("search"),
		r.URL.Query().Get("tag"),
		queryInt(r, "limit", 25),
		queryInt(r, "offset", 0),
		queryBool(r, "refresh"))
	if err != nil {
		s.failErr(w, err)
		return
	}
	total, _ := s.deps.Catalog.Count(r.Context())
	s.success(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

func (s *Server) handleGetCatalogEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.deps.Catalog.GetEntry(r.Context(), r.PathValue("rest"))
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"entry": entry})
}

func (s *Server) handleConfigureCatalogEntry(w http.ResponseWriter, r *http.Request) {
	rest := r.PathValue("rest")
	entryID, ok := strings.CutSuffix(rest, "/configure")
	if !ok {
		s.fail(w, http.StatusNotFound, "unknown catalog action")
		return
	}

	var payload catalog.InstallPayload
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	view, err := s.deps.Installer.Install(r.Context(), entryID, payload)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusCreated, map[string]any{"server": view})
}

// --- history ---

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	logs, err := s.deps.History.List(r.Context(), limit, offset)
	if err != nil {
		s.failErr(w, err)
		return
	}
	total, err := s.deps.History.Count(r.Context())
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{
		"logs":     logs,
		"total":    total,
		"has_more": offset+len(logs) < total,
	})
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "invalid log id")
		return
	}
	entry, err := s.deps.History.Get(r.Context(), id)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"log": entry})
}

// --- monitor ---

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	running := s.deps.Supervisor != nil && s.deps.Supervisor.Running(watcherTask)
	s.success(w, http.StatusOK, map[string]any{"status": map[string]any{
		"running":         running,
		"activation_word": s.deps.Config.Watcher.ActivationWord,
		"poll_interval":   s.deps.Config.Watcher.PollInterval.String(),
	}})
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Supervisor == nil || s.deps.WatcherFn == nil {
		s.fail(w, http.StatusBadRequest, "Monitor is not configured")
		return
	}
	if s.deps.Supervisor.Running(watcherTask) {
		s.fail(w, http.StatusBadRequest, "Monitor is already running")
		return
	}
	if err := s.deps.Supervisor.Start(context.Background(), watcherTask, s.deps.WatcherFn); err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"message": "Monitor started"})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Supervisor == nil || !s.deps.Supervisor.Running(watcherTask) {
		s.fail(w, http.StatusBadRequest, "Monitor is not running")
		return
	}
	if err := s.deps.Supervisor.Stop(watcherTask); err != nil {
		s.logger.Warn("watcher stopped with error", "error", err)
	}
	s.success(w, http.StatusOK, map[string]any{"message": "Monitor stopped"})
}

// --- OAuth broker settings ---

func (s *Server) handleBrokerSettings(w http.ResponseWriter, r *http.Request) {
	_, configured, err := s.deps.Secrets.BrokerAPIKey()
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"configured": configured})
}

func (s *Server) handleUpdateBrokerSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"apiKey"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	apiKey := strings.TrimSpace(body.APIKey)
	if apiKey == "" {
		s.fail(w, http.StatusBadRequest, "API key is required")
		return
	}

	client, err := broker.NewClient(apiKey, s.logger)
	if err != nil {
		s.failErr(w, err)
		return
	}
	if !client.ValidateAPIKey(r.Context()) {
		s.fail(w, http.StatusBadRequest, "Invalid broker API key")
		return
	}

	if err := s.deps.Secrets.SetBrokerAPIKey(apiKey); err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"message": "Broker API key saved successfully"})
}

func (s *Server) handleDeleteBrokerSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Secrets.SetBrokerAPIKey(""); err != nil {
		s.failErr(w, err)
		return
	}
	s.success(w, http.StatusOK, map[string]any{"message": "Broker API key deleted"})
}
