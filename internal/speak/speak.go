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

// Package speak turns execution results into spoken feedback. The
// classifier condenses the raw result into a short answer, then the
// configured TTS provider reads it out. Speech failures are logged and
// never affect execution outcomes.
package speak

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxctl/voxctl/internal/llm"
)

// resultTextLimit bounds how much raw output is handed to the
// summarizer.
const resultTextLimit = 2000

const summarySystemPrompt = "You are a helpful assistant that extracts concise, speakable answers " +
	"from command execution results. Keep responses very brief and conversational - suitable for " +
	"reading out loud. Maximum 2-3 sentences unless absolutely necessary."

// TTS converts text to audible speech.
type TTS interface {
	Speak(ctx context.Context, text string) error
}

// Outcome is the slice of an execution result the speaker needs.
type Outcome struct {
	Success bool
	Output  string
	Error   string
}

// Service summarizes results and speaks them.
type Service struct {
	classifier llm.Classifier
	tts        TTS
	logger     *slog.Logger
}

// NewService builds a speak Service.
func NewService(classifier llm.Classifier, tts TTS, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{classifier: classifier, tts: tts, logger: logger}
}

// AnnounceCommand speaks "Executing <name>" before a command runs.
// Failures are logged only.
func (s *Service) AnnounceCommand(ctx context.Context, commandName string) {
	if err := s.tts.Speak(ctx, "Executing "+commandName); err != nil {
		s.logger.Warn("failed to announce command", "command", commandName, "error", err)
	}
}

// SpeakResult condenses an execution result into a short spoken answer.
func (s *Service) SpeakResult(ctx context.Context, transcript, commandName string, outcome Outcome) {
	resultText := outcome.Output
	if resultText == "" && outcome.Success {
		resultText = "Command executed successfully."
	}
	if !outcome.Success {
		errText := outcome.Error
		if errText == "" {
			errText = "Unknown error"
		}
		resultText = "Error: " + errText
		if outcome.Output != "" {
			resultText += "\nOutput: " + outcome.Output
		}
	}
	if len(resultText) > resultTextLimit {
		resultText = resultText[:resultTextLimit] + "... (truncated)"
	}

	answer := s.summarize(ctx, transcript, resultText)

	s.logger.Debug("speaking result", "command", commandName, "answer", answer)
	if err := s.tts.Speak(ctx, answer); err != nil {
		s.logger.Warn("failed to speak result", "command", commandName, "error", err)
	}
}

// SpeakResultAsync runs SpeakResult in the background so execution
// never waits on audio.
func (s *Service) SpeakResultAsync(transcript, commandName string, outcome Outcome) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("read-aloud panicked", "panic", r)
			}
		}()
		s.SpeakResult(context.Background(), transcript, commandName, outcome)
	}()
}

// summarize asks the classifier for a speakable answer. Falls back to
// fixed phrases when the classifier is unavailable.
func (s *Service) summarize(ctx context.Context, transcript, resultText string) string {
	userMessage := fmt.Sprintf(`Original command: %q

Execution result:
%s

Please extract the concise answer to the original command. Keep it brief and conversational, suitable for text-to-speech.
Focus only on the key information that answers the user's query. If there's an error, explain it briefly.
Do not include any formatting, code blocks, or special characters - just plain text.
Also, if there are numbers involved, make sure you understand what they mean and read them accordingly.`, transcript, resultText)

	answer, err := s.classifier.Generate(ctx, summarySystemPrompt, userMessage, 300)
	if err != nil {
		s.logger.Warn("result summarization failed", "error", err)
		return "I encountered an error while processing the result."
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "I couldn't extract a clear answer from the result."
	}
	return answer
}
