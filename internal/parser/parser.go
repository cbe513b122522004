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

// Package parser routes voice transcripts to commands using the
// classifier's tool calling: every enabled command becomes a tool, the
// transcript becomes the user message, and the selected tool identifies
// the command.
package parser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxctl/voxctl/internal/command"
	"github.com/voxctl/voxctl/internal/llm"
)

const systemPrompt = "You are a voice command router. The user will speak a command, " +
	"and you must determine which tool to use and extract the relevant parameters. " +
	"Choose the most appropriate tool based on the user's intent. " +
	"\n\nIMPORTANT: For optional parameters (not in the 'required' list), " +
	"ONLY provide them if the user explicitly mentions a specific value. " +
	"Do NOT infer, guess, or provide default values for optional parameters. " +
	"If the user says 'all' or doesn't specify an optional parameter, omit it entirely. " +
	"\n\nIf no tool matches, respond with a brief explanation."

// ParseResult is the outcome of routing one transcript.
type ParseResult struct {
	Success     bool           `json:"success"`
	CommandID   string         `json:"command_id,omitempty"`
	CommandName string         `json:"command_name,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	Error       string         `json:"error,omitempty"`

	// ResponseText carries the classifier's explanation when no
	// command matched.
	ResponseText string `json:"response_text,omitempty"`
}

// Parser routes transcripts to commands.
type Parser struct {
	classifier llm.Classifier
	commands   *command.Store
	logger     *slog.Logger
}

// New builds a Parser.
func New(classifier llm.Classifier, commands *command.Store, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{classifier: classifier, commands: commands, logger: logger}
}

// Parse routes a transcript. Failures are reported inside the result,
// never as errors; the caller always has something to show or speak.
func (p *Parser) Parse(ctx context.Context, transcript string) *ParseResult {
	toolset := p.commands.Tools(ctx)
	tools := toolset.Tools()

	if len(tools) == 0 {
		return &ParseResult{
			Success:    false,
			Error:      "No enabled commands available",
			Parameters: map[string]any{},
		}
	}

	result, err := p.classifier.CallWithTools(ctx, transcript, tools, systemPrompt)
	if err != nil {
		return &ParseResult{
			Success:    false,
			Error:      fmt.Sprintf("Parsing error: %v", err),
			Parameters: map[string]any{},
		}
	}
	if !result.Success {
		return &ParseResult{
			Success:    false,
			Error:      result.Error,
			Parameters: map[string]any{},
		}
	}

	if result.ToolUse == nil {
		return &ParseResult{
			Success:      false,
			Error:        "No matching command found",
			Parameters:   map[string]any{},
			ResponseText: result.Text,
		}
	}

	commandID := toolset.ResolveCommandID(result.ToolUse.Name)
	parameters := result.ToolUse.Input
	if parameters == nil {
		parameters = map[string]any{}
	}

	cmd, err := p.commands.Get(ctx, commandID)
	if err != nil {
		return &ParseResult{
			Success:    false,
			Error:      fmt.Sprintf("Command not found: %s", commandID),
			CommandID:  commandID,
			Parameters: parameters,
		}
	}

	p.logger.Debug("transcript routed",
		"command_id", cmd.ID, "command", cmd.Name, "params", len(parameters))

	return &ParseResult{
		Success:     true,
		CommandID:   cmd.ID,
		CommandName: cmd.Name,
		Parameters:  parameters,
	}
}
