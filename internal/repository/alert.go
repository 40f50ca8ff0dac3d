package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/drivesentry/internal/models"
)

// AlertRepository 告警数据仓库
type AlertRepository struct {
	db *DB
}

// NewAlertRepository 创建告警仓库
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// CreateEvent 插入单条告警事件
func (r *AlertRepository) CreateEvent(ctx context.Context, event *models.AlertEvent) error {
	query := `
		INSERT INTO drivesafe_alerts (device_id, alert_level, alert_variant, duration, started_at, ended_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	err := r.db.Pool.QueryRow(ctx, query,
		event.DeviceID,
		event.AlertLevel,
		event.AlertVariant,
		event.Duration,
		event.StartedAt,
		event.EndedAt,
		event.CreatedAt,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("insert alert event: %w", err)
	}
	return nil
}

// UpsertRollup 更新按 (设备, 分组) 的汇总
// duration 为 nil 时只累加次数，均值保持不变
func (r *AlertRepository) UpsertRollup(ctx context.Context, deviceID, variant string, duration *float64) error {
	existing, err := r.GetRollup(ctx, deviceID, variant)
	if err != nil {
		return fmt.Errorf("get rollup: %w", err)
	}

	now := time.Now()

	if existing == nil {
		avg := 0.0
		if duration != nil {
			avg = *duration
		}
		query := `
			INSERT INTO alert_metrics (device_id, alert_variant, alert_count, avg_duration, last_occurred)
			VALUES ($1, $2, 1, $3, $4)
		`
		if _, err := r.db.Pool.Exec(ctx, query, deviceID, variant, avg, now); err != nil {
			return fmt.Errorf("insert rollup: %w", err)
		}
		return nil
	}

	newAvg := existing.AvgDuration
	if duration != nil {
		newAvg = (existing.AvgDuration*float64(existing.AlertCount) + *duration) / float64(existing.AlertCount+1)
	}

	query := `
		UPDATE alert_metrics
		SET alert_count = $1, avg_duration = $2, last_occurred = $3
		WHERE id = $4
	`
	if _, err := r.db.Pool.Exec(ctx, query, existing.AlertCount+1, newAvg, now, existing.ID); err != nil {
		return fmt.Errorf("update rollup: %w", err)
	}
	return nil
}

// GetRollup 读取单个 (设备, 分组) 的汇总，不存在时返回 nil
func (r *AlertRepository) GetRollup(ctx context.Context, deviceID, variant string) (*models.AlertRollup, error) {
	query := `
		SELECT id, device_id, alert_variant, alert_count, avg_duration, last_occurred
		FROM alert_metrics
		WHERE device_id = $1 AND alert_variant = $2
	`
	rollup := &models.AlertRollup{}
	err := r.db.Pool.QueryRow(ctx, query, deviceID, variant).Scan(
		&rollup.ID,
		&rollup.DeviceID,
		&rollup.AlertVariant,
		&rollup.AlertCount,
		&rollup.AvgDuration,
		&rollup.LastOccurred,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rollup: %w", err)
	}
	return rollup, nil
}

// ListRollups 列出设备的所有分组汇总，deviceID 为空时列出全部
func (r *AlertRepository) ListRollups(ctx context.Context, deviceID string) ([]*models.AlertRollup, error) {
	query := `
		SELECT id, device_id, alert_variant, alert_count, avg_duration, last_occurred
		FROM alert_metrics
	`
	args := []interface{}{}
	if deviceID != "" {
		query += ` WHERE device_id = $1`
		args = append(args, deviceID)
	}
	query += ` ORDER BY device_id, alert_variant`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rollups: %w", err)
	}
	defer rows.Close()

	var rollups []*models.AlertRollup
	for rows.Next() {
		rollup := &models.AlertRollup{}
		if err := rows.Scan(
			&rollup.ID,
			&rollup.DeviceID,
			&rollup.AlertVariant,
			&rollup.AlertCount,
			&rollup.AvgDuration,
			&rollup.LastOccurred,
		); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		rollups = append(rollups, rollup)
	}

	return rollups, rows.Err()
}

// ListEvents 列出设备最近的告警事件
func (r *AlertRepository) ListEvents(ctx context.Context, deviceID string, limit int) ([]*models.AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, device_id, alert_level, alert_variant, duration, started_at, ended_at, created_at
		FROM drivesafe_alerts
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alert events: %w", err)
	}
	defer rows.Close()

	var events []*models.AlertEvent
	for rows.Next() {
		event := &models.AlertEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.DeviceID,
			&event.AlertLevel,
			&event.AlertVariant,
			&event.Duration,
			&event.StartedAt,
			&event.EndedAt,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
