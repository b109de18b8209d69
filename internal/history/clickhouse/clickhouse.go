// Package clickhouse ships history events to ClickHouse for long-horizon
// restart analytics.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/daehan/warden/internal/history"
)

type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr ("host:9000") and ensures the audit table exists.
func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		occurred_at DateTime64(3, 'UTC'),
		event String,
		name String,
		pid Int32,
		exit_err Nullable(String)
	) ENGINE = MergeTree() ORDER BY (name, occurred_at);`, s.table)
	return s.conn.Exec(ctx, stmt)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	var errStr *string
	if rec.ExitErr.Valid {
		errStr = &rec.ExitErr.String
	}
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, event, name, pid, exit_err) VALUES (?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query,
		e.OccurredAt.UTC(), string(e.Type), rec.Name, int32(rec.PID), errStr); err != nil {
		return fmt.Errorf("clickhouse insert: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
