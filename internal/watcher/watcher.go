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

// Package watcher polls a transcription app's SQLite database for new
// dictations and routes the ones that look like commands into the
// parse/execute pipeline. fsnotify events on the database file wake
// the poller early; a ticker covers apps that write via WAL where file
// events are unreliable.
package watcher

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "modernc.org/sqlite"

	"github.com/voxctl/voxctl/internal/executor"
	"github.com/voxctl/voxctl/internal/parser"
)

// actionKeywords mark a transcript as a command even without the
// activation word prefix.
var actionKeywords = []string{
	"email",
	"send to chatgpt",
	"send to claude",
	"send to gpt",
	"ask chatgpt",
	"ask claude",
	"ask gpt",
	"note:",
	"write a note",
	"remind me",
	"create note",
	"make a note",
}

// Transcript is one row from the transcription app's History table.
type Transcript struct {
	ID            string
	Timestamp     string
	ASRText       string
	FormattedText string
	EditedText    string
}

// Text returns the best text for parsing, preferring the user's edited
// version over the auto-formatted one.
func (t *Transcript) Text() string {
	text := t.EditedText
	if text == "" {
		text = t.FormattedText
	}
	return strings.TrimSpace(text)
}

// TranscriptParser turns a transcript into a command match.
type TranscriptParser interface {
	Parse(ctx context.Context, transcript string) *parser.ParseResult
}

// CommandRunner executes a matched command with full history logging.
type CommandRunner interface {
	Run(ctx context.Context, commandID string, parameters map[string]any, transcript string) (*executor.Result, int64)
}

// Watcher drives the transcript poll loop.
type Watcher struct {
	dbPath         string
	activationWord string
	pollInterval   time.Duration

	parser TranscriptParser
	runner CommandRunner
	logger *slog.Logger

	lastTimestamp string
	processed     map[string]bool
}

// New builds a watcher over the transcription database at dbPath.
func New(dbPath, activationWord string, pollInterval time.Duration, p TranscriptParser, r CommandRunner, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if activationWord == "" {
		activationWord = "command"
	}
	if pollInterval <= 0 {
		pollInterval = 1500 * time.Millisecond
	}
	return &Watcher{
		dbPath:         dbPath,
		activationWord: strings.ToLower(activationWord),
		pollInterval:   pollInterval,
		parser:         p,
		runner:         r,
		logger:         logger,
		processed:      map[string]bool{},
	}
}

// Run polls until ctx is cancelled. Intended to be started under the
// task supervisor.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.baseline(ctx); err != nil {
		return fmt.Errorf("cannot read transcription database: %w", err)
	}
	w.logger.Info("transcript watcher started",
		"db", w.dbPath, "activation_word", w.activationWord,
		"poll_interval", w.pollInterval.String())

	wake := make(chan struct{}, 1)
	fsWatcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer fsWatcher.Close()
		if err := fsWatcher.Add(w.dbPath); err != nil {
			w.logger.Warn("file watch unavailable, polling only", "error", err)
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-fsWatcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						select {
						case wake <- struct{}{}:
						default:
						}
					}
				case _, ok := <-fsWatcher.Errors:
					if !ok {
						return
					}
				}
			}
		}()
	} else {
		w.logger.Warn("fsnotify unavailable, polling only", "error", err)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("transcript watcher stopped")
			return nil
		case <-ticker.C:
		case <-wake:
		}
		w.poll(ctx)
	}
}

// baseline records the newest existing transcript so only dictations
// made after startup are processed.
func (w *Watcher) baseline(ctx context.Context) error {
	latest, err := w.latest(ctx, "")
	if err != nil {
		return err
	}
	if latest != nil {
		w.lastTimestamp = latest.Timestamp
		w.processed[latest.ID] = true
		w.logger.Debug("watcher baseline set", "timestamp", latest.Timestamp)
	}
	return nil
}

// poll checks for one new transcript and processes it.
func (w *Watcher) poll(ctx context.Context) {
	transcript, err := w.latest(ctx, w.lastTimestamp)
	if err != nil {
		w.logger.Warn("transcript poll failed", "error", err)
		return
	}
	if transcript == nil || w.processed[transcript.ID] {
		return
	}

	text := transcript.Text()
	w.processed[transcript.ID] = true
	w.lastTimestamp = transcript.Timestamp

	if !w.isCommand(transcript.ASRText, text) {
		if text != "" {
			w.logger.Debug("transcript ignored", "id", transcript.ID)
		}
		return
	}

	w.logger.Info("command transcript detected", "id", transcript.ID, "text", text)
	w.process(ctx, text)
}

// process parses and executes one command transcript.
func (w *Watcher) process(ctx context.Context, text string) {
	result := w.parser.Parse(ctx, text)
	if !result.Success {
		w.logger.Warn("unable to parse command", "error", result.Error)
		return
	}

	w.logger.Info("command matched", "command", result.CommandName,
		"command_id", result.CommandID)
	execResult, _ := w.runner.Run(ctx, result.CommandID, result.Parameters, text)
	if execResult != nil && !execResult.Success {
		w.logger.Warn("command execution failed",
			"command_id", result.CommandID, "error", execResult.Error)
	}
}

// isCommand decides whether a transcript should be routed to the
// parser. The raw ASR text is checked for the activation word prefix;
// the formatted text is scanned for action keywords.
func (w *Watcher) isCommand(asrText, formattedText string) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(asrText)), w.activationWord) {
		return true
	}
	check := formattedText
	if check == "" {
		check = asrText
	}
	check = strings.ToLower(strings.TrimSpace(check))
	if check == "" {
		return false
	}
	for _, keyword := range actionKeywords {
		if strings.Contains(check, keyword) {
			return true
		}
	}
	return false
}

// latest reads the newest History row, optionally restricted to rows
// newer than after. The database belongs to another application, so a
// fresh read-only style connection is opened per query.
func (w *Watcher) latest(ctx context.Context, after string) (*Transcript, error) {
	db, err := sql.Open("sqlite", w.dbPath+"?_busy_timeout=2000")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	query := `SELECT transcriptEntityId, timestamp, asrText, formattedText, editedText
		FROM History ORDER BY timestamp DESC LIMIT 1`
	args := []any{}
	if after != "" {
		query = `SELECT transcriptEntityId, timestamp, asrText, formattedText, editedText
			FROM History WHERE timestamp > ? ORDER BY timestamp DESC LIMIT 1`
		args = append(args, after)
	}

	var (
		t                              Transcript
		asr, formatted, edited, stamp sql.NullString
	)
	err = db.QueryRowContext(ctx, query, args...).Scan(&t.ID, &stamp, &asr, &formatted, &edited)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Timestamp = stamp.String
	t.ASRText = asr.String
	t.FormattedText = formatted.String
	t.EditedText = edited.String
	return &t, nil
}
