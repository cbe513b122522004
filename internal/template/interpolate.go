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

// Package template implements parameter interpolation for command
// templates and secret placeholder rendering for server configs.
//
// Command templates use single-brace {name} placeholders, with optional
// sections in square brackets: "[--id={id}]" expands to "--id=5" when id
// is set and disappears entirely when it is missing. Server configs use
// a separate double-brace {{key}} syntax for secret injection.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	// conditionalPattern matches a non-nested [...] optional section.
	conditionalPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

	// placeholderPattern matches a {name} parameter placeholder.
	placeholderPattern = regexp.MustCompile(`\{([^}]+)\}`)

	// secretPattern matches a {{key}} secret placeholder.
	secretPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)
)

// Interpolate substitutes parameter values into a template.
//
// Optional sections are processed first: for each bracketed section, if
// every {name} inside it resolves to a non-empty value the section is
// emitted with placeholders replaced, otherwise the whole section is
// dropped. Remaining placeholders outside brackets are then replaced,
// any still-unresolved placeholders are deleted, and runs of whitespace
// are collapsed to single spaces.
//
// Nested brackets are not supported; inner sections are resolved first
// and the stray outer brackets pass through as literals.
func Interpolate(template string, params map[string]any) string {
	result := conditionalPattern.ReplaceAllStringFunc(template, func(section string) string {
		content := section[1 : len(section)-1]

		names := placeholderNames(content)
		for _, name := range names {
			value, ok := params[name]
			if !ok || isEmpty(value) {
				return ""
			}
		}

		for _, name := range names {
			content = strings.ReplaceAll(content, "{"+name+"}", Stringify(params[name]))
		}
		return content
	})

	for key, value := range params {
		if value == nil {
			continue
		}
		result = strings.ReplaceAll(result, "{"+key+"}", Stringify(value))
	}

	result = collapseWhitespace(result)

	// Drop placeholders for parameters that were never provided.
	result = placeholderPattern.ReplaceAllString(result, "")

	return collapseWhitespace(result)
}

// RenderSecrets replaces {{key}} placeholders with values from the
// context. Keys are trimmed of surrounding whitespace. Unresolved
// placeholders render as empty strings so partial secrets never leak
// template syntax into live requests.
func RenderSecrets(value string, context map[string]string) string {
	return secretPattern.ReplaceAllStringFunc(value, func(match string) string {
		key := strings.TrimSpace(match[2 : len(match)-2])
		return context[key]
	})
}

// Stringify converts a parameter value to its template representation.
// Strings pass through, numbers and bools use their canonical Go form,
// and anything else is JSON-encoded.
func Stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func placeholderNames(content string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(content, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return s == ""
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
