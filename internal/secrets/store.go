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

// Package secrets stores MCP server credentials in the OS keychain.
// Secrets never touch the JSON config files; configs carry only
// {{placeholder}} references resolved at session time.
package secrets

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

// BrokerServerID is the reserved server ID under which the OAuth broker
// API key is stored.
const BrokerServerID = "__broker__"

// BrokerAPIKeyName is the key name of the broker API key secret.
const BrokerAPIKeyName = "api_key"

// Store reads and writes secrets for MCP servers. Keychain entries are
// namespaced by service name and keyed "serverID:keyName".
type Store struct {
	service string
}

// NewStore returns a Store using the given keychain service name.
func NewStore(service string) *Store {
	if service == "" {
		service = "voxctl"
	}
	return &Store{service: service}
}

func username(serverID, key string) string {
	return serverID + ":" + key
}

// Set stores a secret value. An empty value deletes the secret instead,
// so clearing a field in the UI removes the credential.
func (s *Store) Set(serverID, key, value string) error {
	if serverID == "" || key == "" {
		return &voxerrors.ValidationError{
			Field:   "secret",
			Message: "server_id and key_name are required and cannot be empty",
		}
	}

	if value == "" {
		return s.Delete(serverID, key)
	}

	if err := keyring.Set(s.service, username(serverID, key), value); err != nil {
		return &voxerrors.SecretStoreError{ServerID: serverID, Key: key, Op: "set", Cause: err}
	}
	return nil
}

// Get retrieves a secret. Missing secrets return ("", false, nil);
// keychain failures return an error.
func (s *Store) Get(serverID, key string) (string, bool, error) {
	if serverID == "" || key == "" {
		return "", false, &voxerrors.ValidationError{
			Field:   "secret",
			Message: "server_id and key_name are required and cannot be empty",
		}
	}

	value, err := keyring.Get(s.service, username(serverID, key))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &voxerrors.SecretStoreError{ServerID: serverID, Key: key, Op: "get", Cause: err}
	}
	return value, true, nil
}

// Delete removes a secret. Deleting an absent secret is not an error.
func (s *Store) Delete(serverID, key string) error {
	if serverID == "" || key == "" {
		return &voxerrors.ValidationError{
			Field:   "secret",
			Message: "server_id and key_name are required and cannot be empty",
		}
	}

	err := keyring.Delete(s.service, username(serverID, key))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return &voxerrors.SecretStoreError{ServerID: serverID, Key: key, Op: "delete", Cause: err}
	}
	return nil
}

// DeleteAll removes every listed secret for a server, collecting but
// not aborting on individual failures.
func (s *Store) DeleteAll(serverID string, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := s.Delete(serverID, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("purge secrets for %s: %w", serverID, errors.Join(errs...))
	}
	return nil
}

// ListFlags reports which of the given keys have stored values. Lookup
// failures count as absent.
func (s *Store) ListFlags(serverID string, keys []string) map[string]bool {
	flags := make(map[string]bool, len(keys))
	for _, key := range keys {
		_, ok, err := s.Get(serverID, key)
		flags[key] = err == nil && ok
	}
	return flags
}

// ResolveContext returns the secret values for the given keys as a
// template context. Missing keys are simply absent from the map.
func (s *Store) ResolveContext(serverID string, keys []string) (map[string]string, []string, error) {
	context := make(map[string]string, len(keys))
	var missing []string
	for _, key := range keys {
		value, ok, err := s.Get(serverID, key)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			missing = append(missing, key)
			continue
		}
		context[key] = value
	}
	return context, missing, nil
}

// BrokerAPIKey returns the stored OAuth broker API key, if any.
func (s *Store) BrokerAPIKey() (string, bool, error) {
	return s.Get(BrokerServerID, BrokerAPIKeyName)
}

// SetBrokerAPIKey stores (or, when empty, clears) the broker API key.
func (s *Store) SetBrokerAPIKey(value string) error {
	return s.Set(BrokerServerID, BrokerAPIKeyName, value)
}
