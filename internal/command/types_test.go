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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr string
	}{
		{
			name: "valid script",
			cmd: Command{
				Name: "x", Description: "y",
				Action: Action{Type: ActionScript, ScriptPath: "/bin/true"},
			},
		},
		{
			name:    "missing name",
			cmd:     Command{Description: "y", Action: Action{Type: ActionScript, ScriptPath: "p"}},
			wantErr: "name is required",
		},
		{
			name:    "missing action type",
			cmd:     Command{Name: "x", Description: "y"},
			wantErr: "action must have a type",
		},
		{
			name:    "invalid action type",
			cmd:     Command{Name: "x", Description: "y", Action: Action{Type: "shell"}},
			wantErr: "invalid action type",
		},
		{
			name:    "script without path",
			cmd:     Command{Name: "x", Description: "y", Action: Action{Type: ActionScript}},
			wantErr: "script_path",
		},
		{
			name:    "http without url",
			cmd:     Command{Name: "x", Description: "y", Action: Action{Type: ActionHTTP}},
			wantErr: "url",
		},
		{
			name: "http patch rejected",
			cmd: Command{
				Name: "x", Description: "y",
				Action: Action{Type: ActionHTTP, URL: "https://x", Method: "PATCH"},
			},
			wantErr: "unsupported HTTP method",
		},
		{
			name: "mcp missing tool",
			cmd: Command{
				Name: "x", Description: "y",
				Action: Action{Type: ActionMCP, ServerID: "s"},
			},
			wantErr: "server_id and tool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateNormalizesHTTPMethod(t *testing.T) {
	cmd := Command{
		Name: "x", Description: "y",
		Action: Action{Type: ActionHTTP, URL: "https://x", Method: "post"},
	}
	require.NoError(t, cmd.Validate())
	assert.Equal(t, "POST", cmd.Action.Method)

	cmd.Action.Method = ""
	require.NoError(t, cmd.Validate())
	assert.Equal(t, "POST", cmd.Action.Method)
}

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name    string
		options []any
		wantErr bool
		want    []any
	}{
		{"all strings trimmed", []any{" a ", "b"}, false, []any{"a", "b"}},
		{"all integers", []any{float64(1), float64(2)}, false, []any{int64(1), int64(2)}},
		{"mixed rejected", []any{"a", float64(1)}, true, nil},
		{"boolean rejected", []any{true}, true, nil},
		{"empty string rejected", []any{"a", " "}, true, nil},
		{"empty list rejected", []any{}, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Command{
				Name: "x", Description: "y",
				Action:     Action{Type: ActionScript, ScriptPath: "p"},
				Parameters: []Parameter{{Name: "opt", Type: "options", Options: tt.options}},
			}
			err := cmd.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, cmd.Parameters[0].Options)
			}
		})
	}
}

func TestUnmarshalDefaultsEnabled(t *testing.T) {
	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","name":"n"}`), &cmd))
	assert.True(t, cmd.Enabled)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","enabled":false}`), &cmd))
	assert.False(t, cmd.Enabled)
}
