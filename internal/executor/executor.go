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

// Package executor runs commands. Scripts spawn processes, HTTP actions
// call out over the shared client, and MCP actions invoke remote tools.
// Execution failures are reported inside the Result so callers always
// have something to log and speak.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxctl/voxctl/internal/command"
	"github.com/voxctl/voxctl/internal/mcp"
	"github.com/voxctl/voxctl/pkg/httpclient"
)

// ToolCaller invokes a tool on a configured MCP server.
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any, timeout time.Duration) (*mcp.CallResult, error)
}

// Executor dispatches command executions by action type.
type Executor struct {
	commands    *command.Store
	tools       ToolCaller
	httpClient  *http.Client
	confirm     ConfirmFunc
	confirmMode bool
	logger      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient overrides the client used for HTTP actions.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

// WithConfirm overrides the confirmation prompt.
func WithConfirm(fn ConfirmFunc) Option {
	return func(e *Executor) { e.confirm = fn }
}

// WithConfirmMode enables the confirmation gate before every execution.
func WithConfirmMode(enabled bool) Option {
	return func(e *Executor) { e.confirmMode = enabled }
}

// New builds an Executor. tools may be nil when no MCP servers are
// configured; MCP actions then fail with a result error.
func New(commands *command.Store, tools ToolCaller, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		commands: commands,
		tools:    tools,
		confirm:  terminalConfirm,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.httpClient == nil {
		cfg := httpclient.DefaultConfig()
		cfg.UserAgent = "voxctl-action/1.0"
		cfg.RetryAttempts = 0
		client, err := httpclient.New(cfg)
		if err != nil {
			client = http.DefaultClient
		}
		e.httpClient = client
	}
	return e
}

// Execute runs a command with the given parameters. timeout bounds the
// execution; zero falls back to the command's own timeout, and zero
// there means unbounded.
func (e *Executor) Execute(ctx context.Context, commandID string, parameters map[string]any, timeout time.Duration) *Result {
	cmd, err := e.commands.Get(ctx, commandID)
	if err != nil {
		return failure(commandID, "", fmt.Sprintf("Command not found: %s", commandID))
	}

	if !cmd.Enabled {
		return failure(cmd.ID, cmd.Name, "Command is disabled")
	}

	if timeout == 0 && cmd.Timeout > 0 {
		timeout = time.Duration(cmd.Timeout) * time.Second
	}

	e.logger.Info("executing command",
		"command_id", cmd.ID, "command", cmd.Name,
		"action_type", cmd.Action.Type, "params", len(parameters))

	var result *Result
	switch cmd.Action.Type {
	case command.ActionScript:
		result = e.executeScript(ctx, cmd, parameters, timeout)
	case command.ActionHTTP:
		result = e.executeHTTP(ctx, cmd, parameters, timeout)
	case command.ActionMCP:
		result = e.executeMCP(ctx, cmd, parameters, timeout)
	default:
		result = failure(cmd.ID, cmd.Name, fmt.Sprintf("Unknown action type: %s", cmd.Action.Type))
	}

	recordMetrics(cmd.Action.Type, result)
	if !result.Success {
		e.logger.Warn("execution failed",
			"command_id", cmd.ID, "error", result.Error)
	}
	return result
}

// confirmed applies the confirmation gate. Returns false when the user
// declined.
func (e *Executor) confirmed() bool {
	if !e.confirmMode {
		return true
	}
	return e.confirm()
}
