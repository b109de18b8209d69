// Package store persists the last known state of each supervised process so
// a restarted daemon can recover PIDs and reconcile against reality.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is one run of a named process. Uniq identifies the run: the same
// PID restarted at a different time is a different run.
type Record struct {
	Name      string         `json:"name"`
	PID       int            `json:"pid"`
	StartedAt time.Time      `json:"started_at"`
	StoppedAt sql.NullTime   `json:"stopped_at"`
	Running   bool           `json:"running"`
	ExitErr   sql.NullString `json:"exit_err"`
	Uniq      string         `json:"uniq"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Key returns the run identity for this record.
func (r Record) Key() string { return UniqueKey(r.PID, r.StartedAt) }

// UniqueKey builds the run identity from PID and start time.
func UniqueKey(pid int, startedAt time.Time) string {
	return fmt.Sprintf("%d-%d", pid, startedAt.UTC().UnixNano())
}

// Store records process runs. Implementations must be safe for concurrent
// use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordStart(ctx context.Context, rec Record) error
	RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, exitErr error) error
	UpsertStatus(ctx context.Context, rec Record) error
	GetByName(ctx context.Context, name string, limit int) ([]Record, error)
	GetRunning(ctx context.Context, namePrefix string) ([]Record, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
