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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/voxctl/voxctl/pkg/errors"
	"github.com/voxctl/voxctl/pkg/httpclient"
)

// cartesiaBaseURL is the Cartesia TTS endpoint.
const cartesiaBaseURL = "https://api.cartesia.ai"

// cartesiaVersion pins the Cartesia API version header.
const cartesiaVersion = "2024-06-10"

// speakTimeout bounds both synthesis requests and local playback.
const speakTimeout = 60 * time.Second

// AppleTTS speaks through the macOS `say` command.
type AppleTTS struct{}

// Speak runs `say` and waits for it to finish.
func (AppleTTS) Speak(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, speakTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "say", text)
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &errors.TimeoutError{Operation: "text-to-speech", Duration: speakTimeout}
		}
		return fmt.Errorf("say command failed: %w", err)
	}
	return nil
}

// CartesiaTTS synthesizes speech through the Cartesia API and plays the
// resulting audio locally.
type CartesiaTTS struct {
	apiKey  string
	modelID string
	voiceID string
	baseURL string
	client  *http.Client

	// play renders a wav file audibly. Overridable in tests.
	play func(ctx context.Context, path string) error
}

// NewCartesiaTTS builds a Cartesia provider. The API key is required.
func NewCartesiaTTS(apiKey, modelID, voiceID string) (*CartesiaTTS, error) {
	if apiKey == "" {
		return nil, &errors.ConfigError{Key: "speech.cartesia_api_key", Reason: "Cartesia API key is required"}
	}

	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "voxctl-tts/1.0"
	cfg.RetryAttempts = 0
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build TTS HTTP client: %w", err)
	}

	return &CartesiaTTS{
		apiKey:  apiKey,
		modelID: modelID,
		voiceID: voiceID,
		baseURL: cartesiaBaseURL,
		client:  client,
		play:    playWithAfplay,
	}, nil
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *CartesiaTTS) SetBaseURL(url string) {
	c.baseURL = url
}

// Speak synthesizes the text to a temporary wav file and plays it.
func (c *CartesiaTTS) Speak(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, speakTimeout)
	defer cancel()

	payload := map[string]any{
		"transcript": text,
		"model_id":   c.modelID,
		"voice": map[string]any{
			"mode": "id",
			"id":   c.voiceID,
		},
		"output_format": map[string]any{
			"container":   "wav",
			"encoding":    "pcm_s16le",
			"sample_rate": 44100,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode TTS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build TTS request: %w", err)
	}
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("TTS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("Cartesia API returned status %d: %s", resp.StatusCode, string(raw))
	}

	tmp, err := os.CreateTemp("", "voxctl-tts-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return c.play(ctx, tmp.Name())
}

func playWithAfplay(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "afplay", path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio playback failed: %w", err)
	}
	return nil
}

// NewTTS picks a provider by name: "cartesia" or "apple" (default).
func NewTTS(provider, cartesiaKey, cartesiaModel, cartesiaVoice string) (TTS, error) {
	if provider == "cartesia" {
		return NewCartesiaTTS(cartesiaKey, cartesiaModel, cartesiaVoice)
	}
	return AppleTTS{}, nil
}
