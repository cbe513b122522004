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

// Package httpclient builds the outbound HTTP clients used by the
// catalog, broker, LLM, TTS, and action components. Every client gets
// the same treatment: a User-Agent, slog request logging with secret
// query params redacted, and optional retries for safe methods.
package httpclient

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config describes one outbound client.
type Config struct {
	// Timeout bounds the whole request, retries included. Must be > 0.
	Timeout time.Duration

	// RetryAttempts is how many times a failed GET, HEAD, or OPTIONS
	// request is retried. Zero disables retries. Other methods are
	// never retried.
	RetryAttempts int

	// RetryBackoff is the delay before the first retry; each further
	// retry doubles it, capped at MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	// UserAgent identifies the component making the request. Required.
	UserAgent string
}

// DefaultConfig returns the settings shared by all voxctl clients.
// Callers override UserAgent and anything else they need.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  100 * time.Millisecond,
		MaxBackoff:    30 * time.Second,
		UserAgent:     "voxctl-http-client/1.0",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be >= 0, got %d", c.RetryAttempts)
	}
	if c.RetryAttempts > 0 {
		if c.RetryBackoff <= 0 {
			return fmt.Errorf("retry_backoff must be > 0 when retry_attempts > 0, got %v", c.RetryBackoff)
		}
		if c.MaxBackoff < c.RetryBackoff {
			return fmt.Errorf("max_backoff (%v) must be >= retry_backoff (%v)", c.MaxBackoff, c.RetryBackoff)
		}
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}
	return nil
}

// New builds an *http.Client from the config.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	var rt http.RoundTripper = &tracedTransport{next: base, userAgent: cfg.UserAgent}
	if cfg.RetryAttempts > 0 {
		rt = newRetryTransport(rt, cfg)
	}

	return &http.Client{Transport: rt, Timeout: cfg.Timeout}, nil
}

// tracedTransport sets the User-Agent and logs each request with the
// URL's secret query params redacted.
type tracedTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *tracedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		slog.Warn("http request failed",
			"method", req.Method, "url", redactURL(req.URL),
			"duration_ms", elapsed, "error", err)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	slog.Log(req.Context(), level, "http request",
		"method", req.Method, "url", redactURL(req.URL),
		"status", resp.StatusCode, "duration_ms", elapsed)
	return resp, nil
}

// secretParamHints flags query parameter names that carry credentials.
// Matched case-insensitively as substrings, so "key" also catches
// api_key and apiKey.
var secretParamHints = []string{"key", "token", "secret", "password", "auth", "credential", "signature"}

// redactURL renders a URL for logs with secret query params blanked.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	query := u.Query()
	for name := range query {
		lower := strings.ToLower(name)
		for _, hint := range secretParamHints {
			if strings.Contains(lower, hint) {
				query.Set(name, "[REDACTED]")
				break
			}
		}
	}
	redacted := *u
	redacted.RawQuery = query.Encode()
	return redacted.String()
}
