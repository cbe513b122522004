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
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultRegistryURL is the public MCP registry.
const DefaultRegistryURL = "https://registry.modelcontextprotocol.io"

// cacheTTL is how long cached results stay fresh before a background
// refresh is scheduled.
const cacheTTL = 7 * 24 * time.Hour

// refreshTimeout bounds a full registry walk.
const refreshTimeout = 2 * time.Minute

// Service ties the registry client and the local cache together.
// Searches always answer from the cache; expired caches trigger a
// refresh in the background so callers never wait on the registry.
type Service struct {
	client     *Client
	cache      *Cache
	logger     *slog.Logger
	refreshing atomic.Bool
}

// NewService builds a catalog service over the given registry.
func NewService(registryURL, cachePath string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if registryURL == "" {
		registryURL = DefaultRegistryURL
	}

	client, err := NewClient(registryURL, 15*time.Second, logger)
	if err != nil {
		return nil, err
	}
	cache, err := NewCache(cachePath, logger)
	if err != nil {
		return nil, err
	}

	return &Service{client: client, cache: cache, logger: logger}, nil
}

// Search returns catalog entries matching query and tag. When
// forceRefresh is set the registry is re-fetched before answering;
// otherwise a stale cache only schedules a background refresh.
func (s *Service) Search(ctx context.Context, query, tag string, limit, offset int, forceRefresh bool) ([]Entry, error) {
	if forceRefresh {
		if err := s.RefreshAll(ctx); err != nil {
			return nil, err
		}
	} else if s.cache.Expired(ctx, cacheTTL) {
		count, _ := s.cache.Count(ctx)
		if count == 0 {
			// Nothing to answer from, refresh synchronously.
			if err := s.RefreshAll(ctx); err != nil {
				return nil, err
			}
		} else {
			s.refreshInBackground()
		}
	}

	return s.cache.Search(ctx, query, tag, limit, offset)
}

// GetEntry returns one entry from the cache.
func (s *Service) GetEntry(ctx context.Context, id string) (*Entry, error) {
	return s.cache.GetEntry(ctx, id)
}

// Count returns the number of cached entries.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.cache.Count(ctx)
}

// LastRefresh returns when the cache was last filled.
func (s *Service) LastRefresh(ctx context.Context) (time.Time, error) {
	return s.cache.LastRefresh(ctx)
}

// ReplaceEntries swaps the cache contents without touching the
// registry, and marks the cache fresh.
func (s *Service) ReplaceEntries(ctx context.Context, entries []Entry) error {
	if err := s.cache.SaveEntries(ctx, entries); err != nil {
		return err
	}
	return s.cache.SetLastRefresh(ctx, time.Now())
}

// RefreshAll walks the full registry and replaces the cache contents.
func (s *Service) RefreshAll(ctx context.Context) error {
	entries, err := s.client.FetchAll(ctx)
	if err != nil {
		return err
	}
	if err := s.cache.SaveEntries(ctx, entries); err != nil {
		return err
	}
	if err := s.cache.SetLastRefresh(ctx, time.Now()); err != nil {
		s.logger.Warn("failed to record catalog refresh time", "error", err)
	}
	s.logger.Info("catalog refreshed", "entries", len(entries))
	return nil
}

// refreshInBackground kicks off one refresh at a time; further calls
// while a refresh is in flight are dropped.
func (s *Service) refreshInBackground() {
	if !s.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.refreshing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := s.RefreshAll(ctx); err != nil {
			s.logger.Warn("background catalog refresh failed", "error", err)
		}
	}()
}

// Close releases the cache database.
func (s *Service) Close() error {
	return s.cache.Close()
}
