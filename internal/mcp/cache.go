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

package mcp

import (
	"sync"
	"time"
)

// toolCache caches discovered tool lists per server with a TTL.
// Fetches happen outside the lock; concurrent fetches for the same
// server are allowed and the last writer wins.
type toolCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry

	// now is swappable for tests.
	now func() time.Time
}

type cacheEntry struct {
	timestamp time.Time
	tools     []ToolInfo
}

func newToolCache(ttl time.Duration) *toolCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &toolCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// get returns the cached tools for a server if the entry is fresh.
func (c *toolCache) get(serverID string) ([]ToolInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[serverID]
	if !ok || c.now().Sub(entry.timestamp) >= c.ttl {
		return nil, false
	}
	return entry.tools, true
}

// put stores freshly discovered tools for a server.
func (c *toolCache) put(serverID string, tools []ToolInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[serverID] = cacheEntry{timestamp: c.now(), tools: tools}
}

// invalidate drops the cache entry for a server. Called whenever
// config or secrets change, since either can change the visible tools.
func (c *toolCache) invalidate(serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, serverID)
}
