package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/daehan/warden/internal/history"
	"github.com/daehan/warden/internal/store"
)

func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("failed to start PostgreSQL container: %v", err)
		return "", nil
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("failed to get host info: %v", err)
		return "", nil
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("failed to get mapped port: %v", err)
		return "", nil
	}
	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
		cancel()
	}
}

func waitForSink(t *testing.T, dsn string) *Sink {
	t.Helper()
	deadline := time.Now().Add(45 * time.Second)
	for {
		s, err := New(dsn)
		if err == nil {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("postgres sink not ready: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresSinkSend(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	s := waitForSink(t, dsn)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	rec := store.Record{Name: "bot", PID: 77, StartedAt: time.Now().UTC()}
	if err := s.Send(ctx, history.Event{
		Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: rec,
	}); err != nil {
		t.Fatalf("send start: %v", err)
	}
	rec.ExitErr = sql.NullString{String: "exit status 9", Valid: true}
	if err := s.Send(ctx, history.Event{
		Type: history.EventStop, OccurredAt: time.Now().UTC(), Record: rec,
	}); err != nil {
		t.Fatalf("send stop: %v", err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM process_history WHERE name='bot'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 rows, got %d", n)
	}
}
