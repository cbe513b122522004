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

package executor

import (
	"context"
	"errors"
	"log/slog"
	"syscall"
	"time"

	"github.com/voxctl/voxctl/internal/command"
	"github.com/voxctl/voxctl/internal/history"
	"github.com/voxctl/voxctl/internal/mcp"
	"github.com/voxctl/voxctl/internal/speak"
)

// pidPollInterval is how often the completion watcher checks a detached
// script's process.
const pidPollInterval = 500 * time.Millisecond

// Runner executes commands while keeping the execution history in sync
// and driving the read-aloud pipeline.
type Runner struct {
	executor *Executor
	history  *history.Store
	speaker  *speak.Service
	registry *mcp.Registry
	announce bool
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSpeaker enables spoken feedback.
func WithSpeaker(s *speak.Service) RunnerOption {
	return func(r *Runner) { r.speaker = s }
}

// WithRegistry lets the runner honor per-server read-aloud flags for
// MCP commands.
func WithRegistry(reg *mcp.Registry) RunnerOption {
	return func(r *Runner) { r.registry = reg }
}

// WithAnnounce speaks the command name before execution.
func WithAnnounce(enabled bool) RunnerOption {
	return func(r *Runner) { r.announce = enabled }
}

// NewRunner builds a Runner. history may be nil; executions then run
// without logging.
func NewRunner(executor *Executor, hist *history.Store, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{executor: executor, history: hist, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a command, records it in the history, and triggers
// read-aloud when configured. transcript is the original spoken text;
// empty for API or CLI invocations. Returns the result and the history
// log id (zero when logging is unavailable).
func (r *Runner) Run(ctx context.Context, commandID string, parameters map[string]any, transcript string) (*Result, int64) {
	cmd, cmdErr := r.executor.commands.Get(ctx, commandID)

	commandName := "Unknown Command"
	if cmdErr == nil {
		commandName = cmd.Name
	}

	if r.announce && r.speaker != nil {
		r.speaker.AnnounceCommand(ctx, commandName)
	}

	var logID int64
	if r.history != nil {
		id, err := r.history.Start(ctx, commandID, commandName, parameters)
		if err != nil {
			r.logger.Warn("failed to start execution log", "command_id", commandID, "error", err)
		} else {
			logID = id
		}
	}

	result := r.executor.Execute(ctx, commandID, parameters, 0)

	detachedPID := detachedScriptPID(cmd, cmdErr, result)
	if logID != 0 {
		err := r.history.Finish(ctx, logID, history.Outcome{
			Success:  result.Success,
			Output:   result.Output,
			Error:    result.Error,
			Duration: result.Duration,
		}, detachedPID != 0)
		if err != nil {
			r.logger.Warn("failed to finalize execution log", "log_id", logID, "error", err)
		}
	}

	if detachedPID != 0 && logID != 0 {
		go r.watchScriptCompletion(logID, detachedPID, result)
	}

	if r.speaker != nil && transcript != "" && r.shouldReadAloud(cmd, cmdErr) {
		r.speaker.SpeakResultAsync(transcript, commandName, speak.Outcome{
			Success: result.Success,
			Output:  result.Output,
			Error:   result.Error,
		})
	}

	return result, logID
}

// shouldReadAloud checks the command flag, and for MCP commands the
// owning server's flag as well.
func (r *Runner) shouldReadAloud(cmd *command.Command, cmdErr error) bool {
	if cmdErr != nil || cmd == nil {
		return false
	}
	if cmd.ReadAloud {
		return true
	}
	if cmd.Action.Type == command.ActionMCP && r.registry != nil {
		cfg, err := r.registry.Config(cmd.Action.ServerID)
		if err == nil && cfg.ReadAloud {
			return true
		}
	}
	return false
}

// detachedScriptPID returns the PID of a background script launch, or
// zero when the execution settled synchronously.
func detachedScriptPID(cmd *command.Command, cmdErr error, result *Result) int {
	if cmdErr != nil || cmd == nil || !result.Success {
		return 0
	}
	if cmd.Action.Type != command.ActionScript || !cmd.Action.Background {
		return 0
	}
	pid, ok := result.Meta["pid"].(int)
	if !ok {
		return 0
	}
	return pid
}

// watchScriptCompletion polls a detached script's process and finalizes
// the history row with the real duration once it exits.
func (r *Runner) watchScriptCompletion(logID int64, pid int, launch *Result) {
	for {
		if !processAlive(pid) {
			break
		}
		time.Sleep(pidPollInterval)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	duration := 0.0
	if entry, err := r.history.Get(ctx, logID); err == nil {
		if started, perr := time.Parse(time.RFC3339, entry.Timestamp); perr == nil {
			duration = time.Since(started).Seconds()
		}
	}

	err := r.history.Finish(ctx, logID, history.Outcome{
		Success:  true,
		Output:   launch.Output,
		Error:    launch.Error,
		Duration: duration,
	}, false)
	if err != nil {
		r.logger.Warn("failed to finalize async execution log", "log_id", logID, "error", err)
	} else {
		r.logger.Debug("async script completed", "log_id", logID, "pid", pid, "duration", duration)
	}
}

// processAlive reports whether the PID still refers to a live process.
// Signal 0 only checks existence; EPERM still means alive.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
