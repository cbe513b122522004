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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/voxctl/voxctl/internal/command"
)

// executeMCP invokes a remote tool. Arguments are layered: the action's
// default args first, then values for declared parameters, then any
// extra provided values as a failsafe.
func (e *Executor) executeMCP(ctx context.Context, cmd *command.Command, parameters map[string]any, timeout time.Duration) *Result {
	start := time.Now()
	action := cmd.Action

	if e.tools == nil {
		return newResult(cmd, false, start, "", "MCP support is not configured", nil)
	}

	args := buildToolArguments(cmd, parameters)

	if !e.confirmed() {
		return newResult(cmd, false, start, "", "Execution cancelled by user", nil)
	}

	callResult, err := e.tools.CallTool(ctx, action.ServerID, action.Tool, args, timeout)
	if err != nil {
		return newResult(cmd, false, start, "",
			fmt.Sprintf("MCP execution error: %v", err), nil)
	}

	if callResult.IsError {
		raw, _ := json.MarshalIndent(callResult, "", "  ")
		return newResult(cmd, false, start, string(raw),
			"MCP tool returned an error", nil)
	}

	var sections []string
	if callResult.StructuredContent != nil {
		if raw, err := json.MarshalIndent(callResult.StructuredContent, "", "  "); err == nil {
			sections = append(sections, string(raw))
		}
	}
	if len(callResult.Content) > 0 {
		if raw, err := json.MarshalIndent(callResult.Content, "", "  "); err == nil {
			sections = append(sections, string(raw))
		}
	}

	output := strings.TrimSpace(strings.Join(sections, "\n"))
	if output == "" {
		output = "MCP tool executed successfully."
	}
	return newResult(cmd, true, start, output, "", nil)
}

// buildToolArguments merges default args with resolved parameter values.
// Empty and nil values never override defaults.
func buildToolArguments(cmd *command.Command, parameters map[string]any) map[string]any {
	args := make(map[string]any, len(cmd.Action.DefaultArgs)+len(parameters))
	for key, value := range cmd.Action.DefaultArgs {
		args[key] = value
	}

	paramMap := command.BuildParameterMap(cmd, parameters)

	defined := make(map[string]bool, len(cmd.Parameters))
	for _, param := range cmd.Parameters {
		if param.Name == "" {
			continue
		}
		defined[param.Name] = true
		if value, ok := paramMap[param.Name]; ok && !emptyArg(value) {
			args[param.Name] = value
		}
	}

	// Pass through extras the classifier produced for commands with no
	// declared parameters.
	for key, value := range paramMap {
		if _, taken := args[key]; taken || emptyArg(value) {
			continue
		}
		if len(defined) == 0 || defined[key] {
			args[key] = value
		}
	}

	return args
}

func emptyArg(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && s == ""
}
