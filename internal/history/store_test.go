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

package history

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStartAndFinish(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Start(ctx, "cmd-1", "Check Weather", map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	require.NotZero(t, id)

	entry, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, entry.Status)
	assert.Nil(t, entry.Success)
	assert.Equal(t, "Oslo", entry.Parameters["city"])

	err = store.Finish(ctx, id, Outcome{Success: true, Output: "sunny", Duration: 0.42}, false)
	require.NoError(t, err)

	entry, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, entry.Status)
	require.NotNil(t, entry.Success)
	assert.True(t, *entry.Success)
	assert.Equal(t, "sunny", entry.Output)
	assert.InDelta(t, 0.42, entry.Duration, 0.001)
}

func TestFinishFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Start(ctx, "cmd-1", "Broken", nil)
	require.NoError(t, err)

	err = store.Finish(ctx, id, Outcome{Success: false, Error: "boom"}, false)
	require.NoError(t, err)

	entry, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, "boom", entry.Error)
}

func TestFinishKeepRunning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Start(ctx, "cmd-1", "Async Script", nil)
	require.NoError(t, err)

	err = store.Finish(ctx, id, Outcome{Success: true, Output: "launched"}, true)
	require.NoError(t, err)

	entry, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, entry.Status)
	assert.Equal(t, "launched", entry.Output)

	running, err := store.Running(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, id, running[0].ID)
}

func TestFinishUnknownID(t *testing.T) {
	store := newTestStore(t)

	err := store.Finish(context.Background(), 999, Outcome{Success: true}, false)
	var notFound *voxerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestGetUnknownID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), 999)
	var notFound *voxerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := store.Start(ctx, fmt.Sprintf("cmd-%d", i), fmt.Sprintf("Command %d", i), nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	entries, err := store.List(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[4], entries[0].ID)

	page, err := store.List(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.Start(ctx, "cmd", "Command", nil)
		require.NoError(t, err)
	}

	deleted, err := store.Prune(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
