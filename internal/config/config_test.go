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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "command", cfg.Watcher.ActivationWord)
	assert.Equal(t, 1500*time.Millisecond, cfg.Watcher.PollInterval)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Executor.ReadCommandAloud)
	assert.False(t, cfg.Executor.ConfirmMode)
	assert.Equal(t, "apple", cfg.Speech.Provider)
	assert.Equal(t, 5*time.Minute, cfg.ToolCacheTTL)
	assert.Equal(t, "https://registry.modelcontextprotocol.io", cfg.Registry.BaseURL)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
watcher:
  activation_word: trigger
  poll_interval: 500ms
server:
  port: 8123
executor:
  confirm_mode: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))
	t.Setenv("VOXCTL_DATA_DIR", dir)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trigger", cfg.Watcher.ActivationWord)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.PollInterval)
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.True(t, cfg.Executor.ConfirmMode)
	// Untouched fields keep defaults.
	assert.Equal(t, "apple", cfg.Speech.Provider)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watcher: ["), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8123\n"), 0600))
	t.Setenv("VOXCTL_PORT", "9999")
	t.Setenv("VOXCTL_ACTIVATION_WORD", "Jarvis")
	t.Setenv("VOXCTL_DATA_DIR", dir)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "jarvis", cfg.Watcher.ActivationWord)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestMissingConfigFileIsFine(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VOXCTL_DATA_DIR", dir)

	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "flow.sqlite")
	require.NoError(t, os.WriteFile(dbPath, nil, 0600))

	cfg := Default()
	cfg.LLM.APIKey = "sk-test"
	cfg.Watcher.DBPath = dbPath
	assert.Empty(t, cfg.Validate())

	cfg.LLM.APIKey = ""
	cfg.Watcher.DBPath = filepath.Join(dir, "missing.sqlite")
	cfg.Server.Port = 0
	cfg.Speech.Provider = "espeak"
	assert.Len(t, cfg.Validate(), 4)
}

func TestSummaryRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-super-secret"

	summary := cfg.Summary()
	assert.Equal(t, true, summary["has_api_key"])
	for _, v := range summary {
		if s, ok := v.(string); ok {
			assert.NotContains(t, s, "sk-super-secret")
		}
	}
}

func TestDataDirPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/vox"

	assert.Equal(t, "/tmp/vox/commands.json", cfg.CommandsFile())
	assert.Equal(t, "/tmp/vox/mcp_servers.json", cfg.ServersFile())
	assert.Equal(t, "/tmp/vox/voxctl.db", cfg.HistoryDBPath())
}
