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

// Package catalog discovers MCP servers from the public registry,
// caches normalized entries locally, and installs them as server
// configs.
package catalog

import "strings"

// Auth types a catalog entry can declare.
const (
	AuthNone         = "none"
	AuthAPIKeyHeader = "apiKeyHeader"
	AuthBearerHeader = "bearerHeader"
	AuthOAuth        = "oauth"
	AuthQueryParam   = "queryParam"
	AuthCustom       = "custom"
)

// AuthField is one credential a catalog entry requires.
type AuthField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Hint     string `json:"hint,omitempty"`

	// Location is "header" or "query".
	Location string `json:"location"`

	// Target is the header or query parameter name the credential is
	// injected into.
	Target string `json:"target,omitempty"`

	// Scheme prefixes the value, e.g. "Bearer".
	Scheme string `json:"scheme,omitempty"`
}

// Auth describes how a catalog server authenticates.
type Auth struct {
	Type   string      `json:"type"`
	Fields []AuthField `json:"fields"`
}

// Endpoint is a remote entry point advertised by the registry.
type Endpoint struct {
	URL       string `json:"url,omitempty"`
	Transport string `json:"transport,omitempty"`
}

// Entry is a normalized catalog record.
type Entry struct {
	ID              string    `json:"id"`
	Slug            string    `json:"slug"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Tags            []string  `json:"tags"`
	Transports      []string  `json:"transports"`
	Publisher       string    `json:"publisher,omitempty"`
	LogoURL         string    `json:"logoUrl,omitempty"`
	DefaultEndpoint *Endpoint `json:"defaultEndpoint,omitempty"`
	Auth            Auth      `json:"auth"`
	Classification  string    `json:"classification,omitempty"`
	RegistryID      string    `json:"registryId,omitempty"`
}

// matches reports whether an entry satisfies a free-text query and an
// exact tag filter.
func (e *Entry) matches(query, tag string) bool {
	if tag != "" {
		found := false
		for _, t := range e.Tags {
			if strings.EqualFold(t, tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if query == "" {
		return true
	}
	needle := strings.ToLower(query)
	if strings.Contains(strings.ToLower(e.Name), needle) ||
		strings.Contains(strings.ToLower(e.Description), needle) {
		return true
	}
	for _, t := range e.Tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}
