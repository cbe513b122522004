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
	"time"

	"github.com/voxctl/voxctl/internal/command"
)

// Result is the outcome of one command execution. Executions that fail
// still produce a Result; only infrastructure breakage surfaces as an
// error.
type Result struct {
	Success     bool           `json:"success"`
	CommandID   string         `json:"command_id"`
	CommandName string         `json:"command_name"`
	Output      string         `json:"output"`
	Error       string         `json:"error"`
	Duration    float64        `json:"duration"`
	Timestamp   string         `json:"timestamp"`
	Meta        map[string]any `json:"meta"`
}

// newResult builds a Result for a known command, computing duration from
// the execution start time.
func newResult(cmd *command.Command, success bool, start time.Time, output, errText string, meta map[string]any) *Result {
	if meta == nil {
		meta = map[string]any{}
	}
	return &Result{
		Success:     success,
		CommandID:   cmd.ID,
		CommandName: cmd.Name,
		Output:      output,
		Error:       errText,
		Duration:    time.Since(start).Seconds(),
		Timestamp:   time.Now().Format(time.RFC3339),
		Meta:        meta,
	}
}

// failure builds a Result for executions that never reached a command,
// such as unknown IDs.
func failure(commandID, commandName, errText string) *Result {
	if commandName == "" {
		commandName = "Unknown"
	}
	return &Result{
		Success:     false,
		CommandID:   commandID,
		CommandName: commandName,
		Error:       errText,
		Timestamp:   time.Now().Format(time.RFC3339),
		Meta:        map[string]any{},
	}
}
