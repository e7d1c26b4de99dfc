package history

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSQLSink_PostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := NewSQLSink(connStr)
	if err != nil {
		t.Fatalf("NewSQLSink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	now := time.Now().UTC()
	if err := sink.Send(ctx, Entry{Instance: "survival", Event: "started", PID: 777, OccurredAt: now}); err != nil {
		t.Fatalf("Send started: %v", err)
	}
	if err := sink.Send(ctx, Entry{Instance: "survival", Event: "stopped", PID: 777, Reason: "idle", OccurredAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Send stopped: %v", err)
	}

	got, err := sink.Recent(ctx, "survival", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Event != "stopped" || got[0].Reason != "idle" {
		t.Fatalf("unexpected newest entry: %+v", got[0])
	}
}
