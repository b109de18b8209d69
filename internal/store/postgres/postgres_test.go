package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/daehan/warden/internal/store"
)

// startPostgresContainer starts a PostgreSQL container and returns a DSN for
// the pgx stdlib driver. The test is skipped when Docker is unavailable.
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
	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}
	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	t.Helper()
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	waitForPostgres(t, dsn)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	db, err := New(dsn)
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	started := time.Now().UTC().Truncate(time.Millisecond)
	rec := store.Record{Name: "bot", PID: 4242, StartedAt: started, Running: true}
	if err := db.RecordStart(ctx, rec); err != nil {
		t.Fatalf("record start: %v", err)
	}
	// Second insert of the same run must not create a duplicate row.
	if err := db.RecordStart(ctx, rec); err != nil {
		t.Fatalf("record start again: %v", err)
	}

	running, err := db.GetRunning(ctx, "bot")
	if err != nil || len(running) != 1 {
		t.Fatalf("get running: %v %+v", err, running)
	}

	if err := db.RecordStop(ctx, rec.Key(), started.Add(time.Second), errors.New("signal: terminated")); err != nil {
		t.Fatalf("record stop: %v", err)
	}
	got, err := db.GetByName(ctx, "bot", 10)
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if len(got) != 1 || got[0].Running {
		t.Fatalf("stop not applied: %+v", got)
	}
	if !got[0].ExitErr.Valid || got[0].ExitErr.String != "signal: terminated" {
		t.Fatalf("exit err: %+v", got[0].ExitErr)
	}

	n, err := db.PurgeOlderThan(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
}
