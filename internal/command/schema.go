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

package command

import (
	"fmt"
	"regexp"
	"strings"
)

// Tool name and property key limits imposed by the classifier API.
const (
	maxToolNameLen  = 128
	toolNameBaseLen = 120
	maxParamNameLen = 64
)

var (
	invalidParamChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
	invalidToolChars  = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	underscoreRuns    = regexp.MustCompile(`_+`)
)

// Tool is a classifier tool definition derived from a command.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema is the JSON schema describing a tool's parameters.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property is a single JSON schema property.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// SanitizeParamName rewrites a parameter name to satisfy the classifier
// property-key pattern ^[a-zA-Z0-9_.-]{1,64}$. Invalid characters become
// underscores, underscore runs collapse, leading and trailing
// underscores are trimmed, and the result is capped at 64 characters.
// Empty results fall back to "param". The function is idempotent.
func SanitizeParamName(name string) string {
	sanitized := invalidParamChars.ReplaceAllString(name, "_")
	sanitized = strings.Trim(sanitized, "_")
	sanitized = underscoreRuns.ReplaceAllString(sanitized, "_")
	if len(sanitized) > maxParamNameLen {
		// Truncation can expose a trailing underscore; trim again so
		// sanitizing an already-sanitized name is a no-op.
		sanitized = strings.TrimRight(sanitized[:maxParamNameLen], "_")
	}
	if sanitized == "" {
		return "param"
	}
	return sanitized
}

// Toolset holds the classifier tool definitions for a set of commands
// plus the mapping from sanitized tool names back to command IDs.
type Toolset struct {
	tools   []Tool
	nameMap map[string]string
}

// BuildTools converts commands into classifier tool definitions. Tool
// names are sanitized command IDs; collisions get a numeric suffix.
func BuildTools(commands []Command) *Toolset {
	ts := &Toolset{nameMap: make(map[string]string, len(commands))}

	for i := range commands {
		cmd := &commands[i]
		toolName := ts.generateToolName(cmd.ID)
		ts.nameMap[toolName] = cmd.ID
		ts.tools = append(ts.tools, commandToTool(cmd, toolName))
	}

	return ts
}

// Tools returns the tool definitions in command order.
func (ts *Toolset) Tools() []Tool {
	return ts.tools
}

// ResolveCommandID maps a tool name returned by the classifier back to
// the original command ID. Unknown names pass through unchanged.
func (ts *Toolset) ResolveCommandID(toolName string) string {
	if id, ok := ts.nameMap[toolName]; ok {
		return id
	}
	return toolName
}

// generateToolName sanitizes a command ID into a valid tool name and
// disambiguates collisions with a numeric suffix.
func (ts *Toolset) generateToolName(commandID string) string {
	base := invalidToolChars.ReplaceAllString(commandID, "_")
	base = strings.Trim(underscoreRuns.ReplaceAllString(base, "_"), "_")
	if base == "" {
		base = "tool"
	}
	if len(base) > toolNameBaseLen {
		base = base[:toolNameBaseLen]
	}

	candidate := base
	suffix := 1
	for {
		existing, taken := ts.nameMap[candidate]
		if !taken || existing == commandID {
			break
		}
		suffixStr := fmt.Sprintf("_%d", suffix)
		available := maxToolNameLen - len(suffixStr)
		if available < 1 {
			available = 1
		}
		trimmed := base
		if len(trimmed) > available {
			trimmed = trimmed[:available]
		}
		candidate = strings.Trim(trimmed+suffixStr, "_")
		if candidate == "" {
			candidate = fmt.Sprintf("tool_%d", suffix)
		}
		suffix++
	}

	if len(candidate) > maxToolNameLen {
		candidate = candidate[:maxToolNameLen]
	}
	return candidate
}

func commandToTool(cmd *Command, toolName string) Tool {
	description := cmd.Description
	if len(cmd.ExamplePhrases) > 0 {
		examples := cmd.ExamplePhrases
		if len(examples) > 3 {
			examples = examples[:3]
		}
		quoted := make([]string, len(examples))
		for i, ex := range examples {
			quoted[i] = fmt.Sprintf("'%s'", ex)
		}
		description += " Examples: " + strings.Join(quoted, ", ")
	}

	properties := make(map[string]Property, len(cmd.Parameters))
	var required []string

	for _, param := range cmd.Parameters {
		name := SanitizeParamName(param.Name)
		desc := param.Description
		if name != param.Name {
			desc = strings.TrimSpace(fmt.Sprintf("%s (original name: '%s')", desc, param.Name))
		}

		properties[name] = buildPropertySchema(param, desc)

		if param.Required {
			required = append(required, name)
		}
	}

	return Tool{
		Name:        toolName,
		Description: description,
		InputSchema: InputSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}

func buildPropertySchema(param Parameter, description string) Property {
	if param.Type == "options" && len(param.Options) > 0 {
		schemaType, values := prepareEnum(param.Options)
		if description == "" {
			description = "Select one of the available options"
		}
		return Property{Type: schemaType, Description: description, Enum: values}
	}
	return Property{Type: mapParamType(param.Type), Description: description}
}

// prepareEnum determines the schema type for enum values. All-integer
// lists stay integers, all-string lists stay strings, and mixed lists
// are coerced to strings.
func prepareEnum(values []any) (string, []any) {
	if len(values) == 0 {
		return "string", nil
	}

	allInt, allString := true, true
	for _, v := range values {
		switch v.(type) {
		case bool:
			allInt, allString = false, false
		case int, int64:
			allString = false
		case float64:
			allString = false
			if f := v.(float64); f != float64(int64(f)) {
				allInt = false
			}
		case string:
			allInt = false
		default:
			allInt, allString = false, false
		}
	}

	switch {
	case allInt:
		return "integer", values
	case allString:
		return "string", values
	default:
		coerced := make([]any, len(values))
		for i, v := range values {
			coerced[i] = fmt.Sprintf("%v", v)
		}
		return "string", coerced
	}
}

func mapParamType(paramType string) string {
	switch paramType {
	case "number", "integer", "boolean":
		return paramType
	case "string", "email", "url", "options":
		return "string"
	default:
		return "string"
	}
}

// ParametersFromSchema derives parameter definitions from an MCP tool's
// input schema. Enum-bearing properties become "options" parameters.
func ParametersFromSchema(schema map[string]any) []Parameter {
	if schema == nil {
		return nil
	}

	properties, _ := schema["properties"].(map[string]any)
	if len(properties) == 0 {
		return nil
	}

	requiredSet := make(map[string]bool)
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if name, ok := r.(string); ok {
				requiredSet[name] = true
			}
		}
	}

	params := make([]Parameter, 0, len(properties))
	for name, raw := range properties {
		definition, _ := raw.(map[string]any)
		if definition == nil {
			definition = map[string]any{}
		}

		schemaType := "string"
		switch t := definition["type"].(type) {
		case string:
			schemaType = t
		case []any:
			// Union types keep their first entry.
			if len(t) > 0 {
				if s, ok := t[0].(string); ok {
					schemaType = s
				}
			}
		}

		description, _ := definition["description"].(string)

		param := Parameter{
			Name:        name,
			Description: description,
			Required:    requiredSet[name],
		}

		if enum, ok := definition["enum"].([]any); ok && len(enum) > 0 {
			param.Type = "options"
			param.Options = enum
		} else {
			param.Type = schemaTypeToParamType(schemaType)
		}

		params = append(params, param)
	}
	return params
}

func schemaTypeToParamType(schemaType string) string {
	switch schemaType {
	case "number", "integer", "boolean":
		return schemaType
	default:
		return "string"
	}
}

// BuildParameterMap returns the provided values keyed by both their
// sanitized and original parameter names, so templates can reference
// either spelling.
func BuildParameterMap(cmd *Command, provided map[string]any) map[string]any {
	if cmd == nil {
		return provided
	}

	paramMap := make(map[string]any, len(provided)*2)
	for k, v := range provided {
		paramMap[k] = v
	}

	for _, def := range cmd.Parameters {
		if def.Name == "" {
			continue
		}
		sanitized := SanitizeParamName(def.Name)
		if v, ok := provided[sanitized]; ok {
			paramMap[def.Name] = v
			continue
		}
		if v, ok := provided[def.Name]; ok {
			paramMap[sanitized] = v
		}
	}
	return paramMap
}
