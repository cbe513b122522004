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

package httpclient

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryTransport retries safe-method requests on transport errors and
// retryable status codes, with doubling backoff and jitter.
type retryTransport struct {
	next        http.RoundTripper
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
}

func newRetryTransport(next http.RoundTripper, cfg Config) *retryTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &retryTransport{
		next:        next,
		maxAttempts: cfg.RetryAttempts + 1,
		backoff:     cfg.RetryBackoff,
		maxBackoff:  cfg.MaxBackoff,
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !retryableMethod(req.Method) {
		return t.next.RoundTrip(req)
	}

	var lastResp *http.Response
	var lastErr error

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := t.delay(attempt - 1)
			// A shorter server-provided Retry-After wins.
			if lastResp != nil {
				if after := retryAfterDelay(lastResp); after > 0 && after < delay {
					delay = after
				}
			}
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
		}

		resp, err := t.next.RoundTrip(req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		// The previous candidate response is superseded.
		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp, lastErr = resp, err

		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return lastResp, nil
}

// retryableMethod reports whether a method is safe to replay.
func retryableMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code >= 500 ||
		code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests
}

// delay doubles the base backoff per retry, capped at maxBackoff, with
// up to 20% jitter.
func (t *retryTransport) delay(retry int) time.Duration {
	d := t.backoff << (retry - 1)
	if d > t.maxBackoff || d <= 0 {
		d = t.maxBackoff
	}
	return d + time.Duration(rand.Float64()*0.2*float64(d))
}

// retryAfterDelay reads a Retry-After header, either as seconds or as
// an HTTP date. Returns 0 when absent or unusable.
func retryAfterDelay(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if until := time.Until(at); until > 0 {
			return until
		}
	}
	return 0
}
