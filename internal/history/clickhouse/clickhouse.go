// Package clickhouse fans lifecycle history out to ClickHouse for
// long-retention analytics.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/slumber/internal/history"
)

// Sink writes history entries using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(addr, table string) (*Sink, error) {
	if table == "" {
		table = "instance_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		occurred_at DateTime64(3, 'UTC'),
		instance String,
		event String,
		pid Int64,
		reason String
	) ENGINE = MergeTree() ORDER BY (instance, occurred_at)`, s.table)
	return s.conn.Exec(ctx, q)
}

func (s *Sink) Send(ctx context.Context, e history.Entry) error {
	q := fmt.Sprintf(`INSERT INTO %s (occurred_at, instance, event, pid, reason) VALUES (?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, q, e.OccurredAt.UTC(), e.Instance, e.Event, int64(e.PID), e.Reason); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
