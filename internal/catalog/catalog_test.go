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
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryPage(servers []map[string]any, nextCursor string) map[string]any {
	page := map[string]any{"servers": servers}
	if nextCursor != "" {
		page["metadata"] = map[string]any{"nextCursor": nextCursor}
	}
	return page
}

func rawServer(id, name, description string) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"id":          id,
			"name":        name,
			"description": description,
			"remotes": []any{
				map[string]any{"url": "https://" + id + ".example.com/mcp", "type": "streamable-http"},
			},
		},
	}
}

func newTestService(t *testing.T, registryURL string) *Service {
	t.Helper()
	svc, err := NewService(registryURL, filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestClientFetchAllPaginates(t *testing.T) {
	var cursors []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v0/servers", r.URL.Path)
		cursor := r.URL.Query().Get("cursor")
		cursors = append(cursors, cursor)

		var page map[string]any
		if cursor == "" {
			page = registryPage([]map[string]any{rawServer("one", "One", "first")}, "next-page")
		} else {
			page = registryPage([]map[string]any{rawServer("two", "Two", "second")}, "")
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second, nil)
	require.NoError(t, err)

	entries, err := client.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"", "next-page"}, cursors)
	assert.Equal(t, "one", entries[0].ID)
	assert.Equal(t, "two", entries[1].ID)
}

func TestClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second, nil)
	require.NoError(t, err)

	_, _, err = client.FetchPage(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNormalizeEntry(t *testing.T) {
	entry := normalizeEntry(map[string]any{
		"_meta": map[string]any{
			"io.modelcontextprotocol.registry/official": map[string]any{"status": "active"},
		},
		"server": map[string]any{
			"id":          "io.example/weather",
			"name":        "Weather Service",
			"description": "Forecasts and current conditions",
			"tags":        []any{"weather", "forecast"},
			"remotes": []any{
				map[string]any{"url": "https://weather.example.com/mcp", "type": "streamable-http"},
			},
			"authentication": map[string]any{
				"type": "bearer",
				"parameters": []any{
					map[string]any{"key": "api_token", "description": "Registry API token"},
				},
			},
		},
	})
	require.NotNil(t, entry)

	assert.Equal(t, "io.example/weather", entry.ID)
	assert.Equal(t, "weather-service", entry.Slug)
	assert.Equal(t, "official", entry.Classification)
	assert.Equal(t, []string{"streamable-http"}, entry.Transports)
	require.NotNil(t, entry.DefaultEndpoint)
	assert.Equal(t, "https://weather.example.com/mcp", entry.DefaultEndpoint.URL)
	assert.Equal(t, AuthBearerHeader, entry.Auth.Type)
	require.Len(t, entry.Auth.Fields, 1)
	assert.Equal(t, "API_TOKEN", entry.Auth.Fields[0].Key)
	assert.Equal(t, "header", entry.Auth.Fields[0].Location)
}

func TestNormalizeEntryPlaceholders(t *testing.T) {
	entry := normalizeEntry(map[string]any{
		"name":        "Notes",
		"description": "Connect with ${NOTES_API_KEY} and {{workspace_id}}",
		"packages": []any{
			map[string]any{"transport": map[string]any{"type": "stdio"}},
		},
	})
	require.NotNil(t, entry)

	keys := make([]string, 0, len(entry.Auth.Fields))
	for _, field := range entry.Auth.Fields {
		keys = append(keys, field.Key)
	}
	assert.ElementsMatch(t, []string{"NOTES_API_KEY", "WORKSPACE_ID"}, keys)
	assert.Equal(t, []string{"stdio"}, entry.Transports)
}

func TestNormalizeEntryDropsAnonymous(t *testing.T) {
	assert.Nil(t, normalizeEntry(map[string]any{"description": "no id or name"}))
}

func TestCacheSearchAndLookup(t *testing.T) {
	cache, err := NewCache(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	entries := []Entry{
		{ID: "a", Name: "Zebra Notes", Description: "note taking", Tags: []string{"notes"}},
		{ID: "b", Name: "Alpha Weather", Description: "forecast lookups", Tags: []string{"weather"}},
		{ID: "c", Name: "Beta Calendar", Description: "calendar and events", Tags: []string{"calendar"}},
	}
	require.NoError(t, cache.SaveEntries(ctx, entries))

	all, err := cache.Search(ctx, "", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Alpha Weather", all[0].Name)

	byQuery, err := cache.Search(ctx, "forecast", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, "b", byQuery[0].ID)

	byTag, err := cache.Search(ctx, "", "calendar", 10, 0)
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "c", byTag[0].ID)

	paged, err := cache.Search(ctx, "", "", 2, 2)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "Zebra Notes", paged[0].Name)

	entry, err := cache.GetEntry(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Zebra Notes", entry.Name)

	_, err = cache.GetEntry(ctx, "missing")
	require.Error(t, err)
}

func TestCacheExpiry(t *testing.T) {
	cache, err := NewCache(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	assert.True(t, cache.Expired(ctx, time.Hour))

	require.NoError(t, cache.SaveEntries(ctx, []Entry{{ID: "a", Name: "A"}}))
	require.NoError(t, cache.SetLastRefresh(ctx, time.Now()))
	assert.False(t, cache.Expired(ctx, time.Hour))

	require.NoError(t, cache.SetLastRefresh(ctx, time.Now().Add(-2*time.Hour)))
	assert.True(t, cache.Expired(ctx, time.Hour))
}

func TestServiceSearchRefreshesEmptyCache(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(registryPage([]map[string]any{
			rawServer("notes", "Notes", "note taking"),
			rawServer("weather", "Weather", "forecasts"),
		}, ""))
	}))
	defer server.Close()

	svc := newTestService(t, server.URL)

	results, err := svc.Search(context.Background(), "weather", "", 10, 0, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "weather", results[0].ID)
	assert.Equal(t, 1, requests)

	// Fresh cache answers without touching the registry again.
	_, err = svc.Search(context.Background(), "", "", 10, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
}

func TestServiceForceRefresh(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(registryPage([]map[string]any{
			rawServer(fmt.Sprintf("srv-%d", requests), "Server", "described"),
		}, ""))
	}))
	defer server.Close()

	svc := newTestService(t, server.URL)

	_, err := svc.Search(context.Background(), "", "", 10, 0, false)
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), "", "", 10, 0, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "srv-2", results[0].ID)
	assert.Equal(t, 2, requests)
}

func TestEntryMatches(t *testing.T) {
	entry := Entry{
		Name:        "Calendar Sync",
		Description: "Synchronizes events across calendars",
		Tags:        []string{"Calendar", "productivity"},
	}

	assert.True(t, entry.matches("", ""))
	assert.True(t, entry.matches("calendar", ""))
	assert.True(t, entry.matches("EVENTS", ""))
	assert.True(t, entry.matches("", "calendar"))
	assert.False(t, entry.matches("weather", ""))
	assert.False(t, entry.matches("", "weather"))
}
