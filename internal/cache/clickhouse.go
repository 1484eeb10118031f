package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/UmutKorkmaz/solana-route-engine/internal/models"
)

// ClickHouseStore keeps the long-term execution history. Inserts are
// best-effort from the executor's point of view.
type ClickHouseStore struct {
	conn driver.Conn
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseStore{conn: conn}, nil
}

// InsertExecution stores one execution receipt.
func (c *ClickHouseStore) InsertExecution(ctx context.Context, ev *models.ExecutionEvent) error {
	query := `
		INSERT INTO executions (
			signature, timestamp, kind, token_in, token_out,
			amount_in, amount_out, fees, priority_fee,
			pools, hops, attempts, success, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := c.conn.Exec(ctx, query,
		ev.Signature,
		ev.Timestamp,
		ev.Kind,
		ev.TokenIn,
		ev.TokenOut,
		ev.AmountIn,
		ev.AmountOut,
		strings.Join(ev.Fees, ","),
		ev.PriorityFee,
		strings.Join(ev.Pools, ","),
		ev.Hops,
		ev.Attempts,
		ev.Success,
		ev.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

func (c *ClickHouseStore) Close() error {
	return c.conn.Close()
}
