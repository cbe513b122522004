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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxctl/voxctl/internal/command"
	"github.com/voxctl/voxctl/internal/template"
)

// executeScript runs a script action. Background actions detach and
// return immediately with the PID; foreground actions run to completion
// and capture output.
func (e *Executor) executeScript(ctx context.Context, cmd *command.Command, parameters map[string]any, timeout time.Duration) *Result {
	start := time.Now()
	action := cmd.Action

	cwd := resolveWorkingDir(action.WorkingDir)
	if action.WorkingDir != "" && cwd == "" {
		e.logger.Warn("working directory not found, using current directory",
			"working_dir", action.WorkingDir)
	}

	scriptPath := resolvePath(action.ScriptPath, cwd)

	interpreter := ""
	if action.Interpreter != "" {
		interpreter = resolvePath(action.Interpreter, cwd)
		if info, err := os.Stat(interpreter); err != nil {
			e.logger.Warn("interpreter not found", "interpreter", interpreter)
		} else if info.Mode()&0111 == 0 {
			e.logger.Warn("interpreter not executable", "interpreter", interpreter)
		}
	}

	paramMap := command.BuildParameterMap(cmd, parameters)
	args := template.Interpolate(action.ArgsTemplate, paramMap)
	fullCommand := buildCommandString(scriptPath, interpreter, args)

	env := os.Environ()
	if action.EnvFile != "" {
		envVars, err := loadEnvFile(action.EnvFile)
		if err != nil {
			e.logger.Warn("environment file not loaded",
				"env_file", action.EnvFile, "error", err)
		}
		for key, value := range envVars {
			env = append(env, key+"="+value)
		}
	}

	if !e.confirmed() {
		return newResult(cmd, false, start, "", "Execution cancelled by user", nil)
	}

	e.logger.Debug("running script", "command", fullCommand, "cwd", cwd,
		"background", action.Background)

	if action.Background {
		return e.runBackground(cmd, fullCommand, cwd, env, start)
	}
	return e.runForeground(ctx, cmd, fullCommand, cwd, env, start, timeout)
}

// runBackground launches the command detached and reports the PID.
func (e *Executor) runBackground(cmd *command.Command, fullCommand, cwd string, env []string, start time.Time) *Result {
	proc := exec.Command("sh", "-c", fullCommand)
	proc.Dir = cwd
	proc.Env = env
	proc.Stdin = nil
	proc.Stdout = nil
	proc.Stderr = nil
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := proc.Start(); err != nil {
		return newResult(cmd, false, start, "",
			fmt.Sprintf("Background execution error: %v", err), nil)
	}
	pid := proc.Process.Pid

	// Reap the child when it exits so it never lingers as a zombie.
	go func() { _ = proc.Wait() }()

	return newResult(cmd, true, start,
		fmt.Sprintf("Command launched successfully (PID: %d)", pid),
		"", map[string]any{"pid": pid, "mode": "background"})
}

// runForeground runs the command to completion and captures its output.
func (e *Executor) runForeground(ctx context.Context, cmd *command.Command, fullCommand, cwd string, env []string, start time.Time, timeout time.Duration) *Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	proc := exec.CommandContext(ctx, "sh", "-c", fullCommand)
	proc.Dir = cwd
	proc.Env = env

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	err := proc.Run()
	meta := map[string]any{"mode": "foreground", "exit_code": 0}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return newResult(cmd, false, start, "", "Script execution timed out", meta)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			meta["exit_code"] = exitErr.ExitCode()
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		return newResult(cmd, false, start, strings.TrimSpace(stdout.String()),
			fmt.Sprintf("Script execution error: %s", errMsg), meta)
	}

	return newResult(cmd, true, start, strings.TrimSpace(stdout.String()), "", meta)
}

// resolvePath expands a leading tilde and joins relative paths onto the
// working directory when one is set.
func resolvePath(path, workingDir string) string {
	resolved := expandHome(path)
	if !filepath.IsAbs(resolved) && workingDir != "" {
		resolved = filepath.Join(workingDir, resolved)
	}
	return resolved
}

// resolveWorkingDir expands and validates the configured working
// directory. Missing directories resolve to "" so the process inherits
// the current directory.
func resolveWorkingDir(dir string) string {
	if dir == "" {
		return ""
	}
	expanded := expandHome(dir)
	if _, err := os.Stat(expanded); err != nil {
		return ""
	}
	return expanded
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// buildCommandString quotes the interpreter and script path so spaces
// survive the shell.
func buildCommandString(scriptPath, interpreter, args string) string {
	base := fmt.Sprintf("%q", scriptPath)
	if interpreter != "" {
		base = fmt.Sprintf("%q %q", interpreter, scriptPath)
	}
	if args != "" {
		return base + " " + args
	}
	return base
}

// loadEnvFile reads a dotenv file, expanding a leading tilde.
func loadEnvFile(path string) (map[string]string, error) {
	expanded := expandHome(path)
	if _, err := os.Stat(expanded); err != nil {
		return nil, err
	}
	return godotenv.Read(expanded)
}
