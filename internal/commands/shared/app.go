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

// Package shared wires the application graph used by the CLI commands.
package shared

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/voxctl/voxctl/internal/catalog"
	"github.com/voxctl/voxctl/internal/command"
	"github.com/voxctl/voxctl/internal/config"
	"github.com/voxctl/voxctl/internal/executor"
	"github.com/voxctl/voxctl/internal/history"
	"github.com/voxctl/voxctl/internal/llm"
	"github.com/voxctl/voxctl/internal/log"
	"github.com/voxctl/voxctl/internal/mcp"
	"github.com/voxctl/voxctl/internal/parser"
	"github.com/voxctl/voxctl/internal/secrets"
	"github.com/voxctl/voxctl/internal/speak"
	"github.com/voxctl/voxctl/internal/task"
)

// App is the assembled application graph. Parser and Speaker are nil
// when no LLM API key is configured; commands that need them report
// that to the user.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Commands  *command.Store
	Secrets   *secrets.Store
	Registry  *mcp.Registry
	Manager   *mcp.Manager
	History   *history.Store
	Catalog   *catalog.Service
	Installer *catalog.Installer

	Executor *executor.Executor
	Runner   *executor.Runner
	Parser   *parser.Parser
	Speaker  *speak.Service

	Supervisor *task.Supervisor
}

// Build loads configuration and constructs the full graph.
func Build(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := log.New(log.FromEnv())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create data directory %s: %w", cfg.DataDir, err)
	}

	commands, err := command.NewStore(cfg.CommandsFile(), log.WithComponent(logger, "commands"))
	if err != nil {
		return nil, err
	}

	secretStore := secrets.NewStore(cfg.KeyringService)

	registry, err := mcp.NewRegistry(cfg.ServersFile(), secretStore, log.WithComponent(logger, "mcp"))
	if err != nil {
		return nil, err
	}
	manager := mcp.NewManager(registry, secretStore, cfg.ToolCacheTTL, log.WithComponent(logger, "mcp"))

	hist, err := history.NewStore(cfg.HistoryDBPath(), log.WithComponent(logger, "history"))
	if err != nil {
		return nil, err
	}

	catalogSvc, err := catalog.NewService(cfg.Registry.BaseURL, cfg.CatalogDBPath(),
		log.WithComponent(logger, "catalog"))
	if err != nil {
		hist.Close()
		return nil, err
	}

	app := &App{
		Config:     &cfg,
		Logger:     logger,
		Commands:   commands,
		Secrets:    secretStore,
		Registry:   registry,
		Manager:    manager,
		History:    hist,
		Catalog:    catalogSvc,
		Installer:  catalog.NewInstaller(catalogSvc, registry, log.WithComponent(logger, "catalog")),
		Supervisor: task.NewSupervisor(log.WithComponent(logger, "task")),
	}

	app.Executor = executor.New(commands, manager, log.WithComponent(logger, "executor"),
		executor.WithConfirmMode(cfg.Executor.ConfirmMode))

	runnerOpts := []executor.RunnerOption{
		executor.WithRegistry(registry),
		executor.WithAnnounce(cfg.Executor.ReadCommandAloud),
	}

	if cfg.LLM.APIKey != "" {
		classifier, err := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Parser = parser.New(classifier, commands, log.WithComponent(logger, "parser"))

		tts, err := speak.NewTTS(cfg.Speech.Provider, cfg.Speech.CartesiaAPIKey,
			cfg.Speech.CartesiaModelID, cfg.Speech.CartesiaVoiceID)
		if err != nil {
			logger.Warn("text-to-speech unavailable", "error", err)
		} else {
			app.Speaker = speak.NewService(classifier, tts, log.WithComponent(logger, "speak"))
			runnerOpts = append(runnerOpts, executor.WithSpeaker(app.Speaker))
		}
	}

	app.Runner = executor.NewRunner(app.Executor, hist, log.WithComponent(logger, "runner"), runnerOpts...)
	return app, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	if a.Supervisor != nil {
		a.Supervisor.StopAll()
	}
	if a.Catalog != nil {
		if err := a.Catalog.Close(); err != nil {
			a.Logger.Warn("closing catalog cache failed", "error", err)
		}
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.Logger.Warn("closing history database failed", "error", err)
		}
	}
}
