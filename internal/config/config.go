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

// Package config loads voxctl configuration from an optional YAML file,
// a .env file, and VOXCTL_* environment variables, in increasing priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

// Config holds the complete voxctl runtime configuration.
type Config struct {
	// LLM settings used for transcript classification and result summaries.
	LLM LLMConfig `yaml:"llm"`

	// Watcher settings for the transcription database poller.
	Watcher WatcherConfig `yaml:"watcher"`

	// Server settings for the local HTTP API.
	Server ServerConfig `yaml:"server"`

	// Executor settings.
	Executor ExecutorConfig `yaml:"executor"`

	// Registry settings for the public MCP server catalog.
	Registry RegistryConfig `yaml:"registry"`

	// Speech settings for reading results aloud.
	Speech SpeechConfig `yaml:"speech"`

	// KeyringService is the OS keychain service name used for secret storage.
	KeyringService string `yaml:"keyring_service"`

	// ToolCacheTTL bounds how long discovered MCP tool lists are reused.
	ToolCacheTTL time.Duration `yaml:"tool_cache_ttl"`

	// DataDir overrides the default XDG data directory.
	DataDir string `yaml:"data_dir"`
}

// LLMConfig configures the Anthropic classifier.
type LLMConfig struct {
	// APIKey is only ever sourced from the environment, never from YAML.
	APIKey string `yaml:"-"`
	Model  string `yaml:"model"`
}

// WatcherConfig configures the transcript polling loop.
type WatcherConfig struct {
	// DBPath points at the transcription app's SQLite database.
	DBPath string `yaml:"db_path"`

	// ActivationWord is the leading word that marks a transcript as a command.
	// Compared lowercased.
	ActivationWord string `yaml:"activation_word"`

	// PollInterval is the delay between transcript polls.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ServerConfig configures the local HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ExecutorConfig configures command execution behavior.
type ExecutorConfig struct {
	// ConfirmMode requires interactive confirmation before any execution.
	ConfirmMode bool `yaml:"confirm_mode"`

	// ReadCommandAloud announces the matched command name before running it.
	ReadCommandAloud bool `yaml:"read_command_aloud"`
}

// RegistryConfig configures access to the public MCP server registry.
type RegistryConfig struct {
	BaseURL    string        `yaml:"base_url"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	FetchLimit int           `yaml:"fetch_limit"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SpeechConfig configures text-to-speech output.
type SpeechConfig struct {
	// Provider selects the TTS backend: "apple" or "cartesia".
	Provider string `yaml:"provider"`

	// CartesiaAPIKey is only ever sourced from the environment.
	CartesiaAPIKey  string `yaml:"-"`
	CartesiaModelID string `yaml:"cartesia_model_id"`
	CartesiaVoiceID string `yaml:"cartesia_voice_id"`
}

// Default returns a Config populated with defaults.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		LLM: LLMConfig{
			Model: "claude-haiku-4-5",
		},
		Watcher: WatcherConfig{
			DBPath:         filepath.Join(home, "Library", "Application Support", "Wispr Flow", "flow.sqlite"),
			ActivationWord: "command",
			PollInterval:   1500 * time.Millisecond,
		},
		Server: ServerConfig{
			Port: 9000,
		},
		Executor: ExecutorConfig{
			ConfirmMode:      false,
			ReadCommandAloud: true,
		},
		Registry: RegistryConfig{
			BaseURL:    "https://registry.modelcontextprotocol.io",
			CacheTTL:   5 * time.Minute,
			FetchLimit: 100,
			Timeout:    10 * time.Second,
		},
		Speech: SpeechConfig{
			Provider:        "apple",
			CartesiaModelID: "sonic-3",
			CartesiaVoiceID: "a0e99841-438c-4a64-b679-ae501e7d6091",
		},
		KeyringService: "voxctl",
		ToolCacheTTL:   5 * time.Minute,
	}
}

// Load builds the effective configuration. Sources, in increasing
// priority: built-in defaults, the YAML file at path (optional; pass ""
// for the default location), a .env file in the working directory, and
// environment variables. Secrets (API keys) come only from the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()

	// .env is optional; ignore missing file.
	_ = godotenv.Load()

	if path == "" {
		dir, err := ConfigDir()
		if err == nil {
			path = filepath.Join(dir, "config.yaml")
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, &voxerrors.ConfigError{
					Key:    path,
					Reason: "invalid YAML",
					Cause:  err,
				}
			}
		case os.IsNotExist(err):
			// No config file is fine; env and defaults apply.
		default:
			return cfg, &voxerrors.ConfigError{
				Key:    path,
				Reason: "cannot read config file",
				Cause:  err,
			}
		}
	}

	cfg.applyEnv()

	if cfg.DataDir == "" {
		dir, err := DataDir()
		if err != nil {
			return cfg, &voxerrors.ConfigError{
				Key:    "data_dir",
				Reason: "cannot resolve data directory",
				Cause:  err,
			}
		}
		cfg.DataDir = dir
	}

	return cfg, nil
}

// applyEnv overlays environment variables onto the config.
func (c *Config) applyEnv() {
	c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	if v := os.Getenv("VOXCTL_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("VOXCTL_TRANSCRIPT_DB"); v != "" {
		c.Watcher.DBPath = expandHome(v)
	}
	if v := os.Getenv("VOXCTL_ACTIVATION_WORD"); v != "" {
		c.Watcher.ActivationWord = strings.ToLower(v)
	}
	if v := os.Getenv("VOXCTL_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Watcher.PollInterval = d
		}
	}
	if v := os.Getenv("VOXCTL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("VOXCTL_CONFIRM_MODE"); v != "" {
		c.Executor.ConfirmMode = isTruthy(v)
	}
	if v := os.Getenv("VOXCTL_READ_COMMAND_ALOUD"); v != "" {
		c.Executor.ReadCommandAloud = isTruthy(v)
	}
	if v := os.Getenv("VOXCTL_REGISTRY_URL"); v != "" {
		c.Registry.BaseURL = v
	}
	if v := os.Getenv("VOXCTL_TTS_PROVIDER"); v != "" {
		c.Speech.Provider = strings.ToLower(v)
	}
	c.Speech.CartesiaAPIKey = os.Getenv("CARTESIA_API_KEY")
	if v := os.Getenv("VOXCTL_KEYRING_SERVICE"); v != "" {
		c.KeyringService = v
	}
	if v := os.Getenv("VOXCTL_TOOL_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.ToolCacheTTL = d
		}
	}
	if v := os.Getenv("VOXCTL_DATA_DIR"); v != "" {
		c.DataDir = expandHome(v)
	}
}

// Validate returns all problems that would prevent the daemon from
// working. Callers decide which ones are fatal for their mode.
func (c *Config) Validate() []error {
	var errs []error

	if c.LLM.APIKey == "" {
		errs = append(errs, &voxerrors.ConfigError{
			Key:    "ANTHROPIC_API_KEY",
			Reason: "not set",
		})
	}

	if _, err := os.Stat(c.Watcher.DBPath); err != nil {
		errs = append(errs, &voxerrors.ConfigError{
			Key:    "watcher.db_path",
			Reason: fmt.Sprintf("transcription database not found at %s", c.Watcher.DBPath),
		})
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, &voxerrors.ConfigError{
			Key:    "server.port",
			Reason: fmt.Sprintf("invalid port %d", c.Server.Port),
		})
	}

	if c.Speech.Provider != "apple" && c.Speech.Provider != "cartesia" {
		errs = append(errs, &voxerrors.ConfigError{
			Key:    "speech.provider",
			Reason: fmt.Sprintf("unknown TTS provider %q (want apple or cartesia)", c.Speech.Provider),
		})
	}

	return errs
}

// Summary returns a redacted view of the configuration suitable for
// logging and the status endpoint. Secrets are reported as booleans.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"transcript_db":      c.Watcher.DBPath,
		"activation_word":    c.Watcher.ActivationWord,
		"poll_interval":      c.Watcher.PollInterval.String(),
		"port":               c.Server.Port,
		"confirm_mode":       c.Executor.ConfirmMode,
		"read_command_aloud": c.Executor.ReadCommandAloud,
		"has_api_key":        c.LLM.APIKey != "",
		"llm_model":          c.LLM.Model,
		"tts_provider":       c.Speech.Provider,
		"data_dir":           c.DataDir,
	}
}

// CommandsFile returns the path of the JSON command store.
func (c *Config) CommandsFile() string {
	return filepath.Join(c.DataDir, "commands.json")
}

// ServersFile returns the path of the MCP server config store.
func (c *Config) ServersFile() string {
	return filepath.Join(c.DataDir, "mcp_servers.json")
}

// HistoryDBPath returns the path of the execution history database.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "voxctl.db")
}

// CatalogDBPath returns the path of the catalog cache database.
func (c *Config) CatalogDBPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
