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

package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndStop(t *testing.T) {
	sup := NewSupervisor(nil)

	started := make(chan struct{})
	require.NoError(t, sup.Start(context.Background(), "loop", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	<-started
	assert.True(t, sup.Running("loop"))

	require.NoError(t, sup.Stop("loop"))
	assert.False(t, sup.Running("loop"))
}

func TestDuplicateNameRejected(t *testing.T) {
	sup := NewSupervisor(nil)
	defer sup.StopAll()

	require.NoError(t, sup.Start(context.Background(), "loop", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))

	err := sup.Start(context.Background(), "loop", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestNameReusableAfterExit(t *testing.T) {
	sup := NewSupervisor(nil)
	defer sup.StopAll()

	require.NoError(t, sup.Start(context.Background(), "once", func(ctx context.Context) error {
		return nil
	}))

	require.Eventually(t, func() bool { return !sup.Running("once") },
		time.Second, 10*time.Millisecond)

	require.NoError(t, sup.Start(context.Background(), "once", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))
	assert.True(t, sup.Running("once"))
}

func TestFailureCaptured(t *testing.T) {
	sup := NewSupervisor(nil)

	boom := errors.New("boom")
	require.NoError(t, sup.Start(context.Background(), "flaky", func(ctx context.Context) error {
		return boom
	}))

	require.Eventually(t, func() bool { return !sup.Running("flaky") },
		time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, sup.Err("flaky"), boom)
}

func TestPanicCaptured(t *testing.T) {
	sup := NewSupervisor(nil)

	require.NoError(t, sup.Start(context.Background(), "panicky", func(ctx context.Context) error {
		panic("unexpected")
	}))

	require.Eventually(t, func() bool { return !sup.Running("panicky") },
		time.Second, 10*time.Millisecond)
	require.Error(t, sup.Err("panicky"))
	assert.Contains(t, sup.Err("panicky").Error(), "panicked")
}

func TestStopAll(t *testing.T) {
	sup := NewSupervisor(nil)

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, sup.Start(context.Background(), name, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}))
	}

	sup.StopAll()
	for _, name := range []string{"a", "b", "c"} {
		assert.False(t, sup.Running(name))
	}
}
