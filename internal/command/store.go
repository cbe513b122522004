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

package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/google/uuid"

	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

// DiscoveredTool is an MCP tool surfaced by a configured server,
// used to synthesize virtual commands.
type DiscoveredTool struct {
	ServerID    string
	ServerName  string
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolSource lists tools across all configured MCP servers.
type ToolSource interface {
	DiscoverTools(ctx context.Context) ([]DiscoveredTool, error)
}

// Store persists user-defined commands as JSON and synthesizes virtual
// commands from discovered MCP tools on demand.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	commands map[string]Command

	toolSource ToolSource
}

// NewStore loads the command store from path, creating the file (with a
// default welcome command) if it does not exist.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:     path,
		logger:   logger,
		commands: make(map[string]Command),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	if len(s.commands) == 0 {
		s.addDefaultCommand()
	}

	return s, nil
}

// SetToolSource wires the MCP tool discovery used for virtual commands.
func (s *Store) SetToolSource(src ToolSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolSource = src
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.save()
	}
	if err != nil {
		return fmt.Errorf("read commands file: %w", err)
	}

	var commands map[string]Command
	if err := json.Unmarshal(data, &commands); err != nil {
		// A corrupt store should not brick the daemon. Start empty and
		// let the user recreate commands.
		s.logger.Warn("could not load commands file, starting empty",
			"path", s.path, "error", err)
		s.commands = make(map[string]Command)
		return nil
	}

	s.commands = commands
	return nil
}

// save writes the store to disk. Caller must hold the lock (or be the
// only reference).
func (s *Store) save() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create commands dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(s.commands, "", "  ")
	if err != nil {
		return fmt.Errorf("encode commands: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write commands file: %w", err)
	}
	return nil
}

func (s *Store) addDefaultCommand() {
	welcome := Command{
		ID:          "default_welcome",
		Name:        "Default Welcome Command",
		Description: "A simple welcome command for first-time users to test voxctl",
		Enabled:     true,
		ExamplePhrases: []string{
			"run default command",
			"run the default command",
			"execute default command",
		},
		Parameters: []Parameter{},
		Action: Action{
			Type:         ActionScript,
			ScriptPath:   "osascript",
			ArgsTemplate: `-e 'say "Welcome to voxctl! Go ahead and create your first command."'`,
		},
	}
	s.commands[welcome.ID] = welcome
	if err := s.save(); err != nil {
		s.logger.Warn("could not persist default command", "error", err)
	}
	s.logger.Info("created default welcome command")
}

// All returns all commands sorted by name. When includeVirtual is set,
// virtual commands for discovered MCP tools are appended.
func (s *Store) All(ctx context.Context, includeVirtual bool) []Command {
	s.mu.RLock()
	commands := make([]Command, 0, len(s.commands))
	for _, cmd := range s.commands {
		commands = append(commands, cmd)
	}
	s.mu.RUnlock()

	sort.Slice(commands, func(i, j int) bool { return commands[i].Name < commands[j].Name })

	if includeVirtual {
		commands = append(commands, s.virtualCommands(ctx)...)
	}
	return commands
}

// Enabled returns only enabled commands.
func (s *Store) Enabled(ctx context.Context, includeVirtual bool) []Command {
	all := s.All(ctx, includeVirtual)
	enabled := all[:0]
	for _, cmd := range all {
		if cmd.Enabled {
			enabled = append(enabled, cmd)
		}
	}
	return enabled
}

// Get returns a command by ID, checking persisted commands first and
// virtual MCP commands second.
func (s *Store) Get(ctx context.Context, id string) (*Command, error) {
	s.mu.RLock()
	cmd, ok := s.commands[id]
	s.mu.RUnlock()
	if ok {
		return &cmd, nil
	}

	for _, virtual := range s.virtualCommands(ctx) {
		if virtual.ID == id {
			return &virtual, nil
		}
	}

	return nil, &voxerrors.NotFoundError{Resource: "command", ID: id}
}

// Add validates and persists a new command. A missing ID is generated.
func (s *Store) Add(cmd Command) (*Command, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if cmd.ExamplePhrases == nil {
		cmd.ExamplePhrases = []string{}
	}
	if cmd.Parameters == nil {
		cmd.Parameters = []Parameter{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.commands[cmd.ID]; exists {
		return nil, &voxerrors.ValidationError{
			Field:   "id",
			Message: fmt.Sprintf("command with id %q already exists", cmd.ID),
		}
	}

	s.commands[cmd.ID] = cmd
	if err := s.save(); err != nil {
		delete(s.commands, cmd.ID)
		return nil, err
	}
	return &cmd, nil
}

// Update merges the given command into an existing one. The ID in the
// payload is ignored; the path ID wins.
func (s *Store) Update(id string, updated Command) (*Command, error) {
	updated.ID = id

	if err := updated.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, exists := s.commands[id]
	if !exists {
		return nil, &voxerrors.NotFoundError{Resource: "command", ID: id}
	}

	s.commands[id] = updated
	if err := s.save(); err != nil {
		s.commands[id] = previous
		return nil, err
	}
	return &updated, nil
}

// Delete removes a command. Deleting an unknown ID returns NotFoundError.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, exists := s.commands[id]
	if !exists {
		return &voxerrors.NotFoundError{Resource: "command", ID: id}
	}

	delete(s.commands, id)
	if err := s.save(); err != nil {
		s.commands[id] = previous
		return err
	}
	return nil
}

// Toggle flips a command's enabled flag and returns the new state.
func (s *Store) Toggle(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, exists := s.commands[id]
	if !exists {
		return false, &voxerrors.NotFoundError{Resource: "command", ID: id}
	}

	cmd.Enabled = !cmd.Enabled
	s.commands[id] = cmd
	if err := s.save(); err != nil {
		cmd.Enabled = !cmd.Enabled
		s.commands[id] = cmd
		return false, err
	}
	return cmd.Enabled, nil
}

// Tools builds the classifier toolset for all enabled commands,
// including virtual MCP commands.
func (s *Store) Tools(ctx context.Context) *Toolset {
	return BuildTools(s.Enabled(ctx, true))
}

var invalidToolNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// virtualCommands synthesizes one command per discovered MCP tool.
// Failures are logged and yield an empty list; tool discovery problems
// must not break command listing.
func (s *Store) virtualCommands(ctx context.Context) []Command {
	s.mu.RLock()
	src := s.toolSource
	s.mu.RUnlock()

	if src == nil {
		return nil
	}

	tools, err := src.DiscoverTools(ctx)
	if err != nil {
		s.logger.Warn("unable to load MCP tools for virtual commands", "error", err)
		return nil
	}

	commands := make([]Command, 0, len(tools))
	for _, tool := range tools {
		if tool.ServerID == "" || tool.Name == "" {
			continue
		}

		serverName := tool.ServerName
		if serverName == "" {
			serverName = tool.ServerID
		}

		safeToolName := invalidToolNameChars.ReplaceAllString(tool.Name, "_")

		description := tool.Description
		if description == "" {
			description = fmt.Sprintf("MCP tool '%s' from %s", tool.Name, serverName)
		}

		commands = append(commands, Command{
			ID:             fmt.Sprintf("mcp.%s.%s", tool.ServerID, safeToolName),
			Name:           fmt.Sprintf("%s: %s", serverName, tool.Name),
			Description:    description,
			Enabled:        true,
			ExamplePhrases: []string{},
			Parameters:     ParametersFromSchema(tool.InputSchema),
			Action: Action{
				Type:     ActionMCP,
				ServerID: tool.ServerID,
				Tool:     tool.Name,
			},
			Source: SourceMCP,
		})
	}
	return commands
}
