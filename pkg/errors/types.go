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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid command definitions, malformed payloads, or
// constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested command, server, or log entry does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "command", "server", "catalog entry")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems: bad or missing server ids,
// disabled servers, missing URLs or commands, unsupported transports, and
// broken OAuth linkage. ConfigErrors are surfaced to the caller verbatim and
// never retried.
type ConfigError struct {
	// Key is the configuration key or server id that has the problem
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ExecutionError represents a remote protocol-level failure during a tool
// call. Message carries the remote-reported error text. ExecutionErrors are
// surfaced, never retried automatically.
type ExecutionError struct {
	// Server is the id of the MCP server that reported the failure
	Server string

	// Tool is the name of the tool that was invoked
	Tool string

	// Message is the remote-reported error text
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// SecretStoreError wraps failures reported by the OS secret store. These are
// generic runtime errors, distinct from ConfigError: a missing secret is not
// a SecretStoreError, only an inaccessible store is.
type SecretStoreError struct {
	// ServerID and Key identify the entry being accessed
	ServerID string
	Key      string

	// Op is the store operation that failed ("get", "set", "delete")
	Op string

	// Cause is the underlying keyring error
	Cause error
}

// Error implements the error interface.
func (e *SecretStoreError) Error() string {
	return fmt.Sprintf("secret store %s failed for %s:%s: %v", e.Op, e.ServerID, e.Key, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SecretStoreError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "tool call", "HTTP request")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
