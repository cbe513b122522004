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

package executor

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxctl/voxctl/internal/command"
	"github.com/voxctl/voxctl/internal/history"
	"github.com/voxctl/voxctl/internal/llm"
	"github.com/voxctl/voxctl/internal/speak"
)

type fakeGenerator struct{}

func (fakeGenerator) CallWithTools(ctx context.Context, userMessage string, tools []command.Tool, systemPrompt string) (*llm.Result, error) {
	return &llm.Result{Success: true}, nil
}

func (fakeGenerator) Generate(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error) {
	return "All done.", nil
}

type recordingTTS struct {
	mu     sync.Mutex
	spoken []string
}

func (r *recordingTTS) Speak(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spoken = append(r.spoken, text)
	return nil
}

func (r *recordingTTS) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}

func newTestHistory(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunnerRecordsHistory(t *testing.T) {
	store := newTestStore(t)
	script := writeScript(t, "#!/bin/sh\necho done\n")
	mustAdd(t, store, command.Command{
		ID: "job", Name: "Job", Description: "test command", Enabled: true,
		Action: command.Action{Type: command.ActionScript, ScriptPath: script},
	})

	hist := newTestHistory(t)
	runner := NewRunner(New(store, nil, slog.Default()), hist, slog.Default())

	result, logID := runner.Run(context.Background(), "job", map[string]any{"k": "v"}, "")

	require.True(t, result.Success)
	require.NotZero(t, logID)

	entry, err := hist.Get(context.Background(), logID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusCompleted, entry.Status)
	assert.Equal(t, "done", entry.Output)
	assert.Equal(t, "v", entry.Parameters["k"])
}

func TestRunnerRecordsFailure(t *testing.T) {
	store := newTestStore(t)
	hist := newTestHistory(t)
	runner := NewRunner(New(store, nil, slog.Default()), hist, slog.Default())

	result, logID := runner.Run(context.Background(), "missing", nil, "")

	assert.False(t, result.Success)
	require.NotZero(t, logID)

	entry, err := hist.Get(context.Background(), logID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusFailed, entry.Status)
	assert.Equal(t, "Unknown Command", entry.CommandName)
}

func TestRunnerFinalizesDetachedScript(t *testing.T) {
	store := newTestStore(t)
	script := writeScript(t, "#!/bin/sh\nsleep 0.3\n")
	mustAdd(t, store, command.Command{
		ID: "bg", Name: "Background Job", Description: "test command", Enabled: true,
		Action: command.Action{
			Type:       command.ActionScript,
			ScriptPath: script,
			Background: true,
		},
	})

	hist := newTestHistory(t)
	runner := NewRunner(New(store, nil, slog.Default()), hist, slog.Default())

	result, logID := runner.Run(context.Background(), "bg", nil, "")
	require.True(t, result.Success)

	entry, err := hist.Get(context.Background(), logID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusRunning, entry.Status)

	assert.Eventually(t, func() bool {
		entry, err := hist.Get(context.Background(), logID)
		return err == nil && entry.Status == history.StatusCompleted
	}, 5*time.Second, 100*time.Millisecond)
}

func TestRunnerReadAloud(t *testing.T) {
	store := newTestStore(t)
	script := writeScript(t, "#!/bin/sh\necho 21 degrees\n")
	mustAdd(t, store, command.Command{
		ID: "weather", Name: "Check Weather", Description: "test command", Enabled: true, ReadAloud: true,
		Action: command.Action{Type: command.ActionScript, ScriptPath: script},
	})

	tts := &recordingTTS{}
	speaker := speak.NewService(fakeGenerator{}, tts, slog.Default())

	hist := newTestHistory(t)
	runner := NewRunner(New(store, nil, slog.Default()), hist, slog.Default(),
		WithSpeaker(speaker), WithAnnounce(true))

	result, _ := runner.Run(context.Background(), "weather", nil, "what is the weather")
	require.True(t, result.Success)

	assert.Eventually(t, func() bool {
		spoken := tts.all()
		return len(spoken) == 2 && spoken[1] == "All done."
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "Executing Check Weather", tts.all()[0])
}

func TestRunnerNoReadAloudWithoutTranscript(t *testing.T) {
	store := newTestStore(t)
	script := writeScript(t, "#!/bin/sh\necho hi\n")
	mustAdd(t, store, command.Command{
		ID: "quiet", Name: "Quiet", Description: "test command", Enabled: true, ReadAloud: true,
		Action: command.Action{Type: command.ActionScript, ScriptPath: script},
	})

	tts := &recordingTTS{}
	speaker := speak.NewService(fakeGenerator{}, tts, slog.Default())

	runner := NewRunner(New(store, nil, slog.Default()), newTestHistory(t), slog.Default(),
		WithSpeaker(speaker))

	result, _ := runner.Run(context.Background(), "quiet", nil, "")
	require.True(t, result.Success)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, tts.all())
}
