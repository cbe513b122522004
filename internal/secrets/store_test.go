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

package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	keyring.MockInit()
	return NewStore("voxctl-test")
}

func TestSetGetDelete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("github", "API_TOKEN", "ghp_abc"))

	value, ok, err := store.Get("github", "API_TOKEN")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ghp_abc", value)

	require.NoError(t, store.Delete("github", "API_TOKEN"))

	_, ok, err = store.Get("github", "API_TOKEN")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetEmptyValueDeletes(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("github", "API_TOKEN", "ghp_abc"))
	require.NoError(t, store.Set("github", "API_TOKEN", ""))

	_, ok, err := store.Get("github", "API_TOKEN")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteMissingIsNoError(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Delete("github", "NEVER_SET"))
}

func TestEmptyIdentifiersRejected(t *testing.T) {
	store := newTestStore(t)

	assert.Error(t, store.Set("", "k", "v"))
	assert.Error(t, store.Set("s", "", "v"))
	_, _, err := store.Get("", "k")
	assert.Error(t, err)
	assert.Error(t, store.Delete("s", ""))
}

func TestKeysAreScopedByServer(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("github", "TOKEN", "a"))
	require.NoError(t, store.Set("gitlab", "TOKEN", "b"))

	value, _, err := store.Get("github", "TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "a", value)

	value, _, err = store.Get("gitlab", "TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "b", value)
}

func TestListFlags(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("srv", "SET_KEY", "v"))

	flags := store.ListFlags("srv", []string{"SET_KEY", "UNSET_KEY"})
	assert.Equal(t, map[string]bool{"SET_KEY": true, "UNSET_KEY": false}, flags)
}

func TestResolveContext(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("srv", "A", "1"))
	require.NoError(t, store.Set("srv", "B", "2"))

	context, missing, err := store.ResolveContext("srv", []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, context)
	assert.Equal(t, []string{"C"}, missing)
}

func TestDeleteAll(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("srv", "A", "1"))
	require.NoError(t, store.Set("srv", "B", "2"))

	require.NoError(t, store.DeleteAll("srv", []string{"A", "B"}))

	flags := store.ListFlags("srv", []string{"A", "B"})
	assert.Equal(t, map[string]bool{"A": false, "B": false}, flags)
}

func TestBrokerAPIKey(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.BrokerAPIKey()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetBrokerAPIKey("ck_live_123"))

	key, ok, err := store.BrokerAPIKey()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ck_live_123", key)
}
