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

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/voxctl/voxctl/pkg/httpclient"
)

// registryMaxLimit is the largest page size the registry accepts.
const registryMaxLimit = 100

// maxPages caps cursor pagination so a broken registry cannot loop
// forever.
const maxPages = 20

var (
	slugPattern        = regexp.MustCompile(`[^a-z0-9]+`)
	placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}|\{\{([A-Za-z0-9_]+)\}\}`)
)

// Client fetches and normalizes entries from an MCP registry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient builds a registry client. Requests are rate limited so a
// full refresh stays polite to the public registry.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = timeout
	cfg.UserAgent = "voxctl-catalog/1.0"
	httpClient, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog HTTP client: %w", err)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		logger:     logger,
	}, nil
}

// FetchPage fetches one page of registry entries. Returns the
// normalized entries and the cursor for the next page ("" at the end).
func (c *Client) FetchPage(ctx context.Context, cursor string) ([]Entry, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	endpoint := c.baseURL + "/v0/servers?limit=" + strconv.Itoa(registryMaxLimit)
	if cursor != "" {
		endpoint += "&cursor=" + url.QueryEscape(cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	var payload struct {
		Servers  []map[string]any `json:"servers"`
		Metadata struct {
			NextCursor string `json:"nextCursor"`
		} `json:"metadata"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, "", err
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, "", fmt.Errorf("unexpected registry response format: %w", err)
	}

	entries := make([]Entry, 0, len(payload.Servers))
	for _, item := range payload.Servers {
		if entry := normalizeEntry(item); entry != nil {
			entries = append(entries, *entry)
		}
	}

	c.logger.Debug("fetched registry page", "entries", len(entries),
		"has_next", payload.Metadata.NextCursor != "")
	return entries, payload.Metadata.NextCursor, nil
}

// FetchAll walks the cursor pagination until the registry is exhausted.
func (c *Client) FetchAll(ctx context.Context) ([]Entry, error) {
	var all []Entry
	cursor := ""

	for page := 1; page <= maxPages; page++ {
		batch, next, err := c.FetchPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		c.logger.Info("catalog refresh progress", "page", page, "total", len(all))
		if next == "" {
			break
		}
		cursor = next
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("registry returned no entries")
	}
	return all, nil
}

// normalizeEntry converts one raw registry record into an Entry.
// Records without an id or name are dropped.
func normalizeEntry(data map[string]any) *Entry {
	meta, _ := data["_meta"].(map[string]any)
	server := data
	if nested, ok := data["server"].(map[string]any); ok {
		server = nested
	}

	id := stringValue(server["id"])
	if id == "" {
		id = stringValue(server["slug"])
	}
	if id == "" {
		id = stringValue(server["name"])
	}
	name := stringValue(server["name"])
	if name == "" {
		name = id
	}
	if id == "" || name == "" {
		return nil
	}

	slug := slugify(stringValue(server["slug"]))
	if slug == "" {
		slug = slugify(name)
	}
	if slug == "" {
		slug = slugify(id)
	}

	publisher := stringValue(server["publisher"])
	if publisher == "" {
		if repo, ok := server["repository"].(map[string]any); ok {
			publisher = stringValue(repo["source"])
		}
	}

	transports := collectTransports(server)
	authType, authFields := buildAuth(server)

	logoURL := ""
	if metadata, ok := server["metadata"].(map[string]any); ok {
		logoURL = stringValue(metadata["logo"])
		if logoURL == "" {
			logoURL = stringValue(metadata["logoUrl"])
		}
	}

	return &Entry{
		ID:              id,
		Slug:            slug,
		Name:            name,
		Description:     stringValue(server["description"]),
		Tags:            extractTags(server),
		Transports:      transports,
		Publisher:       publisher,
		LogoURL:         logoURL,
		DefaultEndpoint: pickDefaultEndpoint(server, transports),
		Auth:            Auth{Type: authType, Fields: authFields},
		Classification:  classificationFromMeta(meta),
		RegistryID:      id,
	}
}

// pickDefaultEndpoint prefers remotes over legacy endpoints, then falls
// back to the first advertised transport.
func pickDefaultEndpoint(server map[string]any, transports []string) *Endpoint {
	for _, candidate := range [][]any{listValue(server["remotes"]), listValue(server["endpoints"])} {
		for _, item := range candidate {
			remote, ok := item.(map[string]any)
			if !ok {
				continue
			}
			u := stringValue(remote["url"])
			transport := stringValue(remote["type"])
			if transport == "" {
				transport = stringValue(remote["transport"])
			}
			if u != "" && transport != "" {
				return &Endpoint{URL: u, Transport: transport}
			}
		}
	}
	if len(transports) > 0 {
		return &Endpoint{Transport: transports[0]}
	}
	return nil
}

// buildAuth assembles the credential fields a server needs: declared
// authentication parameters, environment variable descriptors, and any
// placeholder tokens found in the record.
func buildAuth(server map[string]any) (string, []AuthField) {
	authMeta, _ := server["authentication"].(map[string]any)
	authType := mapAuthType(stringValue(authMeta["type"]))

	var order []string
	fields := map[string]AuthField{}

	addField := func(key, label string, required bool, hint, location, target, scheme string) {
		normalized := strings.ToUpper(strings.TrimSpace(key))
		if normalized == "" {
			return
		}
		if _, exists := fields[normalized]; exists {
			return
		}
		loc := strings.ToLower(location)
		if loc != "header" && loc != "query" {
			if authType == AuthQueryParam {
				loc = "query"
			} else {
				loc = "header"
			}
		}
		if label == "" {
			label = titleizeEnv(normalized)
		}
		fields[normalized] = AuthField{
			Key: normalized, Label: label, Required: required,
			Hint: hint, Location: loc, Target: target, Scheme: scheme,
		}
		order = append(order, normalized)
	}

	for _, item := range listValue(authMeta["parameters"]) {
		param, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key := firstString(param, "key", "env", "name")
		if key == "" {
			continue
		}
		required := true
		if v, ok := param["required"].(bool); ok {
			required = v
		}
		addField(key,
			firstString(param, "label", "description"),
			required,
			stringValue(param["hint"]),
			firstString(param, "in", "location", "placement"),
			firstString(param, "name", "header", "param"),
			firstString(param, "scheme", "prefix"))
	}

	for _, key := range extractPlaceholders(server) {
		addField(key, "", true, "", "", "", "")
	}

	for _, envVar := range collectEnvironmentVariables(server) {
		key := stringValue(envVar["name"])
		if key == "" {
			continue
		}
		required := true
		if v, ok := envVar["isRequired"].(bool); ok {
			required = v
		}
		hint := stringValue(envVar["hint"])
		if hint == "" {
			hint = stringValue(envVar["description"])
		}
		addField(key, stringValue(envVar["description"]), required, hint, "", "", "")
	}

	result := make([]AuthField, 0, len(order))
	for _, key := range order {
		result = append(result, fields[key])
	}
	return authType, result
}

// mapAuthType normalizes the registry's loose auth type vocabulary.
func mapAuthType(raw string) string {
	switch strings.ToLower(raw) {
	case "":
		return AuthNone
	case "apikey", "api_key", "header_api_key":
		return AuthAPIKeyHeader
	case "bearer", "bearerheader", "bearer_token":
		return AuthBearerHeader
	case "oauth", "oauth2", "oauth2.0", "oauthbearer":
		return AuthOAuth
	case "queryparam", "query_param":
		return AuthQueryParam
	case "none":
		return AuthNone
	default:
		return AuthCustom
	}
}

// extractPlaceholders finds ${VAR} and {{var}} tokens anywhere in the
// record.
func extractPlaceholders(node any) []string {
	var seen []string
	found := map[string]bool{}

	var scan func(value any)
	scan = func(value any) {
		switch v := value.(type) {
		case string:
			for _, match := range placeholderPattern.FindAllStringSubmatch(v, -1) {
				for _, group := range match[1:] {
					if group == "" {
						continue
					}
					key := strings.ToUpper(group)
					if !found[key] {
						found[key] = true
						seen = append(seen, key)
					}
				}
			}
		case map[string]any:
			for _, nested := range v {
				scan(nested)
			}
		case []any:
			for _, item := range v {
				scan(item)
			}
		}
	}
	scan(node)
	return seen
}

// collectEnvironmentVariables gathers environmentVariables descriptors
// from anywhere in the record.
func collectEnvironmentVariables(node any) []map[string]any {
	var variables []map[string]any

	var scan func(value any)
	scan = func(value any) {
		switch v := value.(type) {
		case map[string]any:
			for key, nested := range v {
				if key == "environmentVariables" {
					for _, item := range listValue(nested) {
						if envVar, ok := item.(map[string]any); ok {
							variables = append(variables, envVar)
						}
					}
					continue
				}
				scan(nested)
			}
		case []any:
			for _, item := range v {
				scan(item)
			}
		}
	}
	scan(node)
	return variables
}

// collectTransports gathers transport names from transports, remotes,
// and packages, defaulting to http.
func collectTransports(server map[string]any) []string {
	var transports []string
	for _, item := range listValue(server["transports"]) {
		if s, ok := item.(string); ok {
			transports = append(transports, s)
		}
	}
	for _, item := range listValue(server["remotes"]) {
		if remote, ok := item.(map[string]any); ok {
			transport := stringValue(remote["type"])
			if transport == "" {
				transport = stringValue(remote["transport"])
			}
			if transport != "" {
				transports = append(transports, transport)
			}
		}
	}
	for _, item := range listValue(server["packages"]) {
		pkg, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if transport, ok := pkg["transport"].(map[string]any); ok {
			if t := stringValue(transport["type"]); t != "" {
				transports = append(transports, t)
			}
		}
	}
	if len(transports) == 0 {
		transports = []string{"http"}
	}

	seen := map[string]bool{}
	var ordered []string
	for _, t := range transports {
		if !seen[t] {
			seen[t] = true
			ordered = append(ordered, t)
		}
	}
	return ordered
}

// extractTags returns at most 8 tags from tags or categories.
func extractTags(server map[string]any) []string {
	raw := listValue(server["tags"])
	if len(raw) == 0 {
		raw = listValue(server["categories"])
	}
	var tags []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			tags = append(tags, s)
		}
	}
	if len(tags) > 8 {
		tags = tags[:8]
	}
	return tags
}

func classificationFromMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	for key := range meta {
		if strings.Contains(strings.ToLower(key), "official") {
			return "official"
		}
	}
	return "community"
}

func slugify(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	return strings.Trim(slugPattern.ReplaceAllString(value, "-"), "-")
}

func titleizeEnv(name string) string {
	cleaned := strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if cleaned == "" {
		return name
	}
	lower := strings.ToLower(cleaned)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func listValue(v any) []any {
	list, _ := v.([]any)
	return list
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringValue(m[key]); s != "" {
			return s
		}
	}
	return ""
}
