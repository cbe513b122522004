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

// Package command defines voice command models, their JSON store, and
// the conversion of commands into classifier tool definitions.
package command

import (
	"encoding/json"
	"fmt"
	"strings"

	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

// Action types.
const (
	ActionScript = "script"
	ActionHTTP   = "http"
	ActionMCP    = "mcp"
)

// SourceMCP marks virtual commands derived from discovered MCP tools.
const SourceMCP = "mcp"

// allowedHTTPMethods is the method allow-list for HTTP actions.
var allowedHTTPMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
}

// Command is a user-defined voice command.
type Command struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Enabled        bool        `json:"enabled"`
	ExamplePhrases []string    `json:"example_phrases"`
	Parameters     []Parameter `json:"parameters"`
	Action         Action      `json:"action"`

	// ReadAloud enables spoken result summaries after execution.
	ReadAloud bool `json:"read_aloud,omitempty"`

	// Timeout is the per-command execution timeout in seconds. Zero
	// means no timeout.
	Timeout int `json:"timeout,omitempty"`

	// Source is "mcp" for virtual commands derived from discovered MCP
	// tools. Virtual commands are never persisted.
	Source string `json:"source,omitempty"`
}

// UnmarshalJSON applies defaults: commands are enabled unless the JSON
// explicitly disables them.
func (c *Command) UnmarshalJSON(data []byte) error {
	type alias Command
	aux := struct {
		Enabled *bool `json:"enabled"`
		*alias
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Enabled = aux.Enabled == nil || *aux.Enabled
	return nil
}

// Parameter describes one extractable parameter of a command.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`

	// Options holds the allowed values for "options" parameters.
	Options []any `json:"options,omitempty"`
}

// Action is the tagged union of the three execution backends. Type
// selects which field group applies.
type Action struct {
	Type string `json:"type"`

	// Script action fields.
	ScriptPath   string `json:"script_path,omitempty"`
	ArgsTemplate string `json:"args_template,omitempty"`
	Interpreter  string `json:"interpreter,omitempty"`
	WorkingDir   string `json:"working_dir,omitempty"`
	EnvFile      string `json:"env_file,omitempty"`
	Background   bool   `json:"background,omitempty"`

	// HTTP action fields.
	URL          string            `json:"url,omitempty"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyTemplate string            `json:"body_template,omitempty"`

	// MCP action fields.
	ServerID    string         `json:"server_id,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	DefaultArgs map[string]any `json:"default_args,omitempty"`
}

// Validate checks the command structure and normalizes it in place:
// HTTP methods are uppercased (defaulting to POST) and option values
// are normalized to a consistent type.
func (c *Command) Validate() error {
	if c.Name == "" {
		return &voxerrors.ValidationError{Field: "name", Message: "name is required"}
	}
	if c.Description == "" {
		return &voxerrors.ValidationError{Field: "description", Message: "description is required"}
	}

	switch c.Action.Type {
	case ActionScript:
		if c.Action.ScriptPath == "" {
			return &voxerrors.ValidationError{Field: "action.script_path", Message: "script action must have script_path"}
		}
	case ActionHTTP:
		if c.Action.URL == "" {
			return &voxerrors.ValidationError{Field: "action.url", Message: "http action must have url"}
		}
		method := strings.ToUpper(c.Action.Method)
		if method == "" {
			method = "POST"
		}
		if !allowedHTTPMethods[method] {
			return &voxerrors.ValidationError{
				Field:      "action.method",
				Message:    fmt.Sprintf("unsupported HTTP method %q", c.Action.Method),
				Suggestion: "use one of GET, POST, PUT, DELETE",
			}
		}
		c.Action.Method = method
	case ActionMCP:
		if c.Action.ServerID == "" || c.Action.Tool == "" {
			return &voxerrors.ValidationError{Field: "action", Message: "mcp action must specify server_id and tool"}
		}
	case "":
		return &voxerrors.ValidationError{Field: "action.type", Message: "action must have a type"}
	default:
		return &voxerrors.ValidationError{
			Field:      "action.type",
			Message:    fmt.Sprintf("invalid action type %q", c.Action.Type),
			Suggestion: "use script, http, or mcp",
		}
	}

	for i := range c.Parameters {
		if err := c.Parameters[i].normalize(); err != nil {
			return err
		}
	}

	return nil
}

// normalize validates a parameter definition and, for "options"
// parameters, enforces consistently typed option values: all strings or
// all integers, never booleans, never empty strings.
func (p *Parameter) normalize() error {
	if p.Type != "options" {
		return nil
	}

	name := p.Name
	if name == "" {
		name = "parameter"
	}

	if len(p.Options) == 0 {
		return &voxerrors.ValidationError{
			Field:   name,
			Message: fmt.Sprintf("parameter %q of type options must include at least one option", name),
		}
	}

	normalized := make([]any, 0, len(p.Options))
	expected := ""

	for _, raw := range p.Options {
		var (
			optionType string
			value      any
		)

		switch v := raw.(type) {
		case bool:
			return &voxerrors.ValidationError{
				Field:   name,
				Message: fmt.Sprintf("options for %q cannot be boolean values", name),
			}
		case string:
			trimmed := strings.TrimSpace(v)
			if trimmed == "" {
				return &voxerrors.ValidationError{
					Field:   name,
					Message: fmt.Sprintf("options for %q cannot include empty strings", name),
				}
			}
			optionType, value = "string", trimmed
		case int:
			optionType, value = "integer", v
		case int64:
			optionType, value = "integer", v
		case float64:
			// JSON numbers decode as float64; only whole numbers are
			// valid integer options.
			if v != float64(int64(v)) {
				return &voxerrors.ValidationError{
					Field:   name,
					Message: fmt.Sprintf("options for %q must be strings or integers", name),
				}
			}
			optionType, value = "integer", int64(v)
		default:
			return &voxerrors.ValidationError{
				Field:   name,
				Message: fmt.Sprintf("options for %q must be strings or integers", name),
			}
		}

		if expected == "" {
			expected = optionType
		} else if expected != optionType {
			return &voxerrors.ValidationError{
				Field:   name,
				Message: fmt.Sprintf("all options for %q must share the same type (all strings or all integers)", name),
			}
		}

		normalized = append(normalized, value)
	}

	p.Options = normalized
	return nil
}

// IsVirtual reports whether the command was derived from a discovered
// MCP tool rather than defined by the user.
func (c *Command) IsVirtual() bool {
	return c.Source == SourceMCP
}
