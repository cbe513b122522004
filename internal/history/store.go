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

// Package history persists execution outcomes to a local SQLite
// database. Entries start as "running" and are finalized once the
// execution settles; detached scripts stay "running" until the
// completion watcher observes the process exit.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

// Execution statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Entry is one row of the execution log.
type Entry struct {
	ID          int64          `json:"id"`
	Timestamp   string         `json:"timestamp"`
	CommandID   string         `json:"command_id"`
	CommandName string         `json:"command_name"`
	Parameters  map[string]any `json:"parameters"`
	Status      string         `json:"status"`
	Success     *bool          `json:"success"`
	Output      string         `json:"output"`
	Error       string         `json:"error"`
	Duration    float64        `json:"duration"`
}

// Outcome carries the fields written back when an execution settles.
type Outcome struct {
	Success  bool
	Output   string
	Error    string
	Duration float64
}

// Store is a SQLite-backed execution log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (and if needed creates) the history database.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, &voxerrors.ConfigError{Key: "history.db_path", Reason: "database path is required"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run history migrations: %w", err)
	}
	return s, nil
}

// migrate creates the schema.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS execution_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			command_id TEXT NOT NULL,
			command_name TEXT NOT NULL,
			parameters TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			success INTEGER,
			output TEXT,
			error TEXT,
			duration REAL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_history_timestamp
			ON execution_history(timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Start records a new execution in the running state and returns its
// log id.
func (s *Store) Start(ctx context.Context, commandID, commandName string, parameters map[string]any) (int64, error) {
	paramsJSON, err := json.Marshal(parameters)
	if err != nil {
		paramsJSON = []byte("{}")
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_history
			(timestamp, command_id, command_name, parameters, status, success, output, error, duration)
		VALUES (?, ?, ?, ?, ?, NULL, '', '', 0.0)`,
		time.Now().Format(time.RFC3339), commandID, commandName, string(paramsJSON), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert execution log: %w", err)
	}
	return result.LastInsertId()
}

// Finish writes the outcome back. keepRunning leaves the status as
// running for executions that detach and settle later.
func (s *Store) Finish(ctx context.Context, id int64, outcome Outcome, keepRunning bool) error {
	status := StatusCompleted
	if keepRunning {
		status = StatusRunning
	} else if !outcome.Success {
		status = StatusFailed
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE execution_history
		SET status = ?, success = ?, output = ?, error = ?, duration = ?
		WHERE id = ?`,
		status, boolToInt(outcome.Success), outcome.Output, outcome.Error, outcome.Duration, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution log: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &voxerrors.NotFoundError{Resource: "execution log", ID: fmt.Sprintf("%d", id)}
	}
	return nil
}

// List returns log entries newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, command_id, command_name, parameters, status, success, output, error, duration
		FROM execution_history
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}
	return entries, nil
}

// Get returns a single log entry.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, timestamp, command_id, command_name, parameters, status, success, output, error, duration
		FROM execution_history WHERE id = ?`, id,
	)

	entry, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &voxerrors.NotFoundError{Resource: "execution log", ID: fmt.Sprintf("%d", id)}
		}
		return nil, err
	}
	return entry, nil
}

// Running returns entries still in the running state, oldest first.
func (s *Store) Running(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, command_id, command_name, parameters, status, success, output, error, duration
		FROM execution_history
		WHERE status = ?
		ORDER BY id ASC`, StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query running executions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Count returns the total number of log entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution_history`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution logs: %w", err)
	}
	return count, nil
}

// Prune deletes old entries beyond the most recent keep rows and
// returns how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM execution_history
		WHERE id NOT IN (
			SELECT id FROM execution_history
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)`, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune execution logs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("pruned execution logs", "deleted", deleted, "kept", keep)
	}
	return deleted, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanEntry maps one row into an Entry.
func scanEntry(scan func(dest ...any) error) (*Entry, error) {
	var entry Entry
	var paramsJSON sql.NullString
	var success sql.NullInt64
	var output, errText sql.NullString
	var duration sql.NullFloat64

	if err := scan(
		&entry.ID, &entry.Timestamp, &entry.CommandID, &entry.CommandName,
		&paramsJSON, &entry.Status, &success, &output, &errText, &duration,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan execution log: %w", err)
	}

	entry.Parameters = map[string]any{}
	if paramsJSON.Valid && paramsJSON.String != "" {
		_ = json.Unmarshal([]byte(paramsJSON.String), &entry.Parameters)
	}
	if success.Valid {
		v := success.Int64 != 0
		entry.Success = &v
	}
	entry.Output = output.String
	entry.Error = errText.String
	entry.Duration = duration.Float64
	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
