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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToolCacheHitAndExpiry(t *testing.T) {
	now := time.Now()
	cache := newToolCache(time.Minute)
	cache.now = func() time.Time { return now }

	tools := []ToolInfo{{ServerID: "s", Name: "t"}}
	cache.put("s", tools)

	got, ok := cache.get("s")
	assert.True(t, ok)
	assert.Equal(t, tools, got)

	// Advance past the TTL.
	now = now.Add(2 * time.Minute)
	_, ok = cache.get("s")
	assert.False(t, ok)
}

func TestToolCacheMiss(t *testing.T) {
	cache := newToolCache(time.Minute)
	_, ok := cache.get("unknown")
	assert.False(t, ok)
}

func TestToolCacheInvalidate(t *testing.T) {
	cache := newToolCache(time.Minute)
	cache.put("s", []ToolInfo{{Name: "t"}})

	cache.invalidate("s")
	_, ok := cache.get("s")
	assert.False(t, ok)
}

func TestToolCacheLastWriterWins(t *testing.T) {
	cache := newToolCache(time.Minute)
	cache.put("s", []ToolInfo{{Name: "old"}})
	cache.put("s", []ToolInfo{{Name: "new"}})

	got, ok := cache.get("s")
	assert.True(t, ok)
	assert.Equal(t, "new", got[0].Name)
}
