package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateAlerts,
		migrationCreateAlertMetrics,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateAlerts = `
CREATE TABLE IF NOT EXISTS drivesafe_alerts (
    id BIGSERIAL PRIMARY KEY,
    device_id VARCHAR(128) NOT NULL,
    alert_level INT NOT NULL,
    alert_variant VARCHAR(1) NOT NULL,
    duration DOUBLE PRECISION,
    started_at TIMESTAMP WITH TIME ZONE,
    ended_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_drivesafe_alerts_device_id ON drivesafe_alerts(device_id);
CREATE INDEX IF NOT EXISTS idx_drivesafe_alerts_created_at ON drivesafe_alerts(created_at);
`

const migrationCreateAlertMetrics = `
CREATE TABLE IF NOT EXISTS alert_metrics (
    id BIGSERIAL PRIMARY KEY,
    device_id VARCHAR(128) NOT NULL,
    alert_variant VARCHAR(1) NOT NULL,
    alert_count INT NOT NULL DEFAULT 0,
    avg_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_occurred TIMESTAMP WITH TIME ZONE NOT NULL,
    UNIQUE (device_id, alert_variant)
);
CREATE INDEX IF NOT EXISTS idx_alert_metrics_device_id ON alert_metrics(device_id);
`
