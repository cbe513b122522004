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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxctl/voxctl/internal/command"
	"github.com/voxctl/voxctl/internal/template"
)

// responseTextLimit caps how much response body ends up in the result
// output.
const responseTextLimit = 500

// executeHTTP runs an HTTP action: interpolate URL, headers and body,
// send the request, and report status plus truncated body.
func (e *Executor) executeHTTP(ctx context.Context, cmd *command.Command, parameters map[string]any, timeout time.Duration) *Result {
	start := time.Now()
	action := cmd.Action

	paramMap := command.BuildParameterMap(cmd, parameters)
	url := template.Interpolate(action.URL, paramMap)

	method := strings.ToUpper(action.Method)
	if method == "" {
		method = http.MethodPost
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return newResult(cmd, false, start, "",
			fmt.Sprintf("Unsupported HTTP method: %s", method), nil)
	}

	var body io.Reader
	contentType := ""
	if action.BodyTemplate != "" {
		rendered := template.Interpolate(action.BodyTemplate, paramMap)
		body = strings.NewReader(rendered)
		if json.Valid([]byte(rendered)) {
			contentType = "application/json"
		}
	}

	if !e.confirmed() {
		return newResult(cmd, false, start, "", "Execution cancelled by user", nil)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return newResult(cmd, false, start, "",
			fmt.Sprintf("HTTP request error: %v", err), nil)
	}
	for key, value := range action.Headers {
		req.Header.Set(key, template.Interpolate(value, paramMap))
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	e.logger.Debug("http action", "method", method, "url", url)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return newResult(cmd, false, start, "", "HTTP request timed out", nil)
		}
		return newResult(cmd, false, start, "",
			fmt.Sprintf("HTTP request error: %v", err), nil)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	text := truncate(string(raw), responseTextLimit)
	meta := map[string]any{"status_code": resp.StatusCode}

	if resp.StatusCode < 400 {
		return newResult(cmd, true, start,
			fmt.Sprintf("Status: %d\n%s", resp.StatusCode, text), "", meta)
	}
	return newResult(cmd, false, start, text,
		fmt.Sprintf("HTTP error: %d", resp.StatusCode), meta)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
