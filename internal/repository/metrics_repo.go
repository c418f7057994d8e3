package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"points_service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MetricsRepository stores rollup rows in metrics_hourly and metrics_daily.
type MetricsRepository struct {
	db *pgxpool.Pool
}

func NewMetricsRepository(db *pgxpool.Pool) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// UpsertHourly writes or replaces the row for (user, hour).
func (r *MetricsRepository) UpsertHourly(ctx context.Context, m *domain.MetricsHourly) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO metrics_hourly (user_id, hour_utc, points_earned, event_count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, hour_utc) DO UPDATE
		SET points_earned = EXCLUDED.points_earned,
		    event_count   = EXCLUDED.event_count,
		    updated_at    = EXCLUDED.updated_at
	`, m.UserID, m.HourUTC.UTC(), m.PointsEarned, m.EventCount, m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert hourly: %w", err)
	}
	return nil
}

// UpsertDaily writes or replaces the row for (user, day).
func (r *MetricsRepository) UpsertDaily(ctx context.Context, m *domain.MetricsDaily) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO metrics_daily (user_id, day_utc, points_earned, event_count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, day_utc) DO UPDATE
		SET points_earned = EXCLUDED.points_earned,
		    event_count   = EXCLUDED.event_count,
		    updated_at    = EXCLUDED.updated_at
	`, m.UserID, m.DayUTC.UTC(), m.PointsEarned, m.EventCount, m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert daily: %w", err)
	}
	return nil
}

func (r *MetricsRepository) GetHourly(ctx context.Context, userID string, hour time.Time) (*domain.MetricsHourly, error) {
	var m domain.MetricsHourly
	err := r.db.QueryRow(ctx, `
		SELECT user_id, hour_utc, points_earned, event_count, updated_at
		FROM metrics_hourly WHERE user_id = $1 AND hour_utc = $2
	`, userID, hour.UTC()).Scan(&m.UserID, &m.HourUTC, &m.PointsEarned, &m.EventCount, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.HourUTC = m.HourUTC.UTC()
	return &m, nil
}

func (r *MetricsRepository) GetDaily(ctx context.Context, userID string, day time.Time) (*domain.MetricsDaily, error) {
	var m domain.MetricsDaily
	err := r.db.QueryRow(ctx, `
		SELECT user_id, day_utc, points_earned, event_count, updated_at
		FROM metrics_daily WHERE user_id = $1 AND day_utc = $2
	`, userID, day.UTC()).Scan(&m.UserID, &m.DayUTC, &m.PointsEarned, &m.EventCount, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.DayUTC = m.DayUTC.UTC()
	return &m, nil
}

// ListHourly returns rows with from <= hour_utc < to, oldest first.
func (r *MetricsRepository) ListHourly(ctx context.Context, userID string, from, to time.Time) ([]*domain.MetricsHourly, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, hour_utc, points_earned, event_count, updated_at
		FROM metrics_hourly
		WHERE user_id = $1 AND hour_utc >= $2 AND hour_utc < $3
		ORDER BY hour_utc
	`, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.MetricsHourly
	for rows.Next() {
		var m domain.MetricsHourly
		if err := rows.Scan(&m.UserID, &m.HourUTC, &m.PointsEarned, &m.EventCount, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.HourUTC = m.HourUTC.UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ListDaily returns rows with from <= day_utc < to, oldest first.
func (r *MetricsRepository) ListDaily(ctx context.Context, userID string, from, to time.Time) ([]*domain.MetricsDaily, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, day_utc, points_earned, event_count, updated_at
		FROM metrics_daily
		WHERE user_id = $1 AND day_utc >= $2 AND day_utc < $3
		ORDER BY day_utc
	`, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.MetricsDaily
	for rows.Next() {
		var m domain.MetricsDaily
		if err := rows.Scan(&m.UserID, &m.DayUTC, &m.PointsEarned, &m.EventCount, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.DayUTC = m.DayUTC.UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}
