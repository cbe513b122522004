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

// Package task runs named background loops under one supervisor with
// explicit start and stop, so nothing in the daemon depends on
// abandoned goroutines.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Fn is the body of a background task. It must return when ctx is
// cancelled; the returned error (other than context.Canceled) is
// recorded as the task's failure.
type Fn func(ctx context.Context) error

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Supervisor owns a set of named background tasks.
type Supervisor struct {
	mu     sync.Mutex
	tasks  map[string]*running
	logger *slog.Logger
}

// NewSupervisor builds an empty supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{tasks: map[string]*running{}, logger: logger}
}

// Start launches fn under the given name. Starting a name that is
// already running is an error.
func (s *Supervisor) Start(ctx context.Context, name string, fn Fn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[name]; ok {
		select {
		case <-existing.done:
			// Finished task; the slot can be reused.
		default:
			return fmt.Errorf("task %q is already running", name)
		}
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := &running{cancel: cancel, done: make(chan struct{})}
	s.tasks[name] = task

	go func() {
		defer close(task.done)
		defer func() {
			if r := recover(); r != nil {
				task.err = fmt.Errorf("task %q panicked: %v", name, r)
				s.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()

		s.logger.Info("background task started", "task", name)
		err := fn(taskCtx)
		if err != nil && taskCtx.Err() == nil {
			task.err = err
			s.logger.Error("background task failed", "task", name, "error", err)
			return
		}
		s.logger.Info("background task stopped", "task", name)
	}()

	return nil
}

// Stop cancels the named task and waits for it to return. Returns the
// task's failure, if any.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	task.cancel()
	<-task.done
	return task.err
}

// StopAll cancels every task and waits for all of them.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = map[string]*running{}
	s.mu.Unlock()

	for name, task := range tasks {
		task.cancel()
		<-task.done
		if task.err != nil {
			s.logger.Warn("background task ended with error", "task", name, "error", task.err)
		}
	}
}

// Running reports whether the named task is still active.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-task.done:
		return false
	default:
		return true
	}
}

// Err returns the recorded failure of a finished task, if any.
func (s *Supervisor) Err(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[name]
	if !ok {
		return nil
	}
	select {
	case <-task.done:
		return task.err
	default:
		return nil
	}
}
