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

package speak

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxctl/voxctl/internal/command"
	"github.com/voxctl/voxctl/internal/llm"
)

type fakeClassifier struct {
	answer  string
	err     error
	lastMsg string
}

func (f *fakeClassifier) CallWithTools(ctx context.Context, userMessage string, tools []command.Tool, systemPrompt string) (*llm.Result, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClassifier) Generate(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error) {
	f.lastMsg = userMessage
	return f.answer, f.err
}

type fakeTTS struct {
	spoken []string
	err    error
}

func (f *fakeTTS) Speak(ctx context.Context, text string) error {
	f.spoken = append(f.spoken, text)
	return f.err
}

func TestSpeakResultSuccess(t *testing.T) {
	classifier := &fakeClassifier{answer: "It is sunny in Oslo."}
	tts := &fakeTTS{}
	svc := NewService(classifier, tts, slog.Default())

	svc.SpeakResult(context.Background(), "check the weather", "Check Weather",
		Outcome{Success: true, Output: `{"temp": 21, "sky": "clear"}`})

	require.Len(t, tts.spoken, 1)
	assert.Equal(t, "It is sunny in Oslo.", tts.spoken[0])
	assert.Contains(t, classifier.lastMsg, "check the weather")
	assert.Contains(t, classifier.lastMsg, `"temp": 21`)
}

func TestSpeakResultFailureIncludesError(t *testing.T) {
	classifier := &fakeClassifier{answer: "The calendar was unavailable."}
	tts := &fakeTTS{}
	svc := NewService(classifier, tts, slog.Default())

	svc.SpeakResult(context.Background(), "list my events", "List Events",
		Outcome{Success: false, Error: "calendar unavailable", Output: "detail"})

	assert.Contains(t, classifier.lastMsg, "Error: calendar unavailable")
	assert.Contains(t, classifier.lastMsg, "Output: detail")
}

func TestSpeakResultSummarizerError(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("api down")}
	tts := &fakeTTS{}
	svc := NewService(classifier, tts, slog.Default())

	svc.SpeakResult(context.Background(), "anything", "Anything", Outcome{Success: true, Output: "ok"})

	require.Len(t, tts.spoken, 1)
	assert.Equal(t, "I encountered an error while processing the result.", tts.spoken[0])
}

func TestSpeakResultEmptyAnswer(t *testing.T) {
	classifier := &fakeClassifier{answer: "   "}
	tts := &fakeTTS{}
	svc := NewService(classifier, tts, slog.Default())

	svc.SpeakResult(context.Background(), "anything", "Anything", Outcome{Success: true, Output: "ok"})

	require.Len(t, tts.spoken, 1)
	assert.Equal(t, "I couldn't extract a clear answer from the result.", tts.spoken[0])
}

func TestAnnounceCommand(t *testing.T) {
	tts := &fakeTTS{}
	svc := NewService(&fakeClassifier{}, tts, slog.Default())

	svc.AnnounceCommand(context.Background(), "Check Weather")

	require.Len(t, tts.spoken, 1)
	assert.Equal(t, "Executing Check Weather", tts.spoken[0])
}

func TestCartesiaSpeak(t *testing.T) {
	var gotVersion, gotKey string
	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("Cartesia-Version")
		gotKey = r.Header.Get("X-API-Key")
		_ = jsonDecode(r, &gotPayload)
		w.Write([]byte("RIFFfake-wav-bytes"))
	}))
	defer server.Close()

	tts, err := NewCartesiaTTS("key-1", "sonic-3", "voice-1")
	require.NoError(t, err)
	tts.SetBaseURL(server.URL)

	var playedPath string
	tts.play = func(ctx context.Context, path string) error {
		playedPath = path
		return nil
	}

	require.NoError(t, tts.Speak(context.Background(), "hello there"))

	assert.Equal(t, "2024-06-10", gotVersion)
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "hello there", gotPayload["transcript"])
	assert.Equal(t, "sonic-3", gotPayload["model_id"])
	assert.NotEmpty(t, playedPath)
}

func TestCartesiaSpeakAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusBadRequest)
	}))
	defer server.Close()

	tts, err := NewCartesiaTTS("key-1", "sonic-3", "voice-1")
	require.NoError(t, err)
	tts.SetBaseURL(server.URL)

	err = tts.Speak(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestNewCartesiaTTSRequiresKey(t *testing.T) {
	_, err := NewCartesiaTTS("", "sonic-3", "voice-1")
	require.Error(t, err)
}

func TestNewTTSDefaultsToApple(t *testing.T) {
	tts, err := NewTTS("apple", "", "", "")
	require.NoError(t, err)
	_, ok := tts.(AppleTTS)
	assert.True(t, ok)
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
