package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"points_service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// eventQueries runs ledger statements against a pool or a transaction.
type eventQueries struct {
	q querier
}

// Append inserts a ledger row. ID and CreatedAt are set by the caller.
func (e eventQueries) Append(ctx context.Context, ev *domain.PointEvent) error {
	metaJSON := []byte("{}")
	if ev.Meta != nil {
		b, err := json.Marshal(ev.Meta)
		if err != nil {
			return fmt.Errorf("encode point event meta: %w", err)
		}
		metaJSON = b
	}

	_, err := e.q.Exec(ctx,
		`INSERT INTO point_events (id, user_id, type, amount, source, meta, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.UserID, string(ev.Type), ev.Amount, string(ev.Source), metaJSON, ev.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append point event: %w", err)
	}
	return nil
}

func (e eventQueries) LastEventAt(ctx context.Context, userID string, t domain.EarnType) (time.Time, bool, error) {
	var last *time.Time
	err := e.q.QueryRow(ctx,
		`SELECT MAX(created_at) FROM point_events WHERE user_id = $1 AND type = $2`,
		userID, string(t),
	).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last event: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return last.UTC(), true, nil
}

func (e eventQueries) SumSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var sum int64
	err := e.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM point_events WHERE user_id = $1 AND created_at > $2`,
		userID, since.UTC(),
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum since: %w", err)
	}
	return sum, nil
}

// PointEventRepository is the Postgres ledger.
type PointEventRepository struct {
	eventQueries
	db *pgxpool.Pool
}

func NewPointEventRepository(db *pgxpool.Pool) *PointEventRepository {
	return &PointEventRepository{eventQueries: eventQueries{q: db}, db: db}
}

// WithUserLock runs fn in a transaction holding a transaction-scoped advisory
// lock on the user. The lock is released on commit or rollback.
func (r *PointEventRepository) WithUserLock(ctx context.Context, userID string, fn func(EventStore) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("lock user: %w", err)
	}

	if err := fn(eventQueries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PointEventRepository) SumRange(ctx context.Context, userID string, from, to time.Time) (int64, int64, error) {
	var sum, count int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*)
		 FROM point_events
		 WHERE user_id = $1 AND created_at >= $2 AND created_at < $3`,
		userID, from.UTC(), to.UTC(),
	).Scan(&sum, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("sum range: %w", err)
	}
	return sum, count, nil
}

func (r *PointEventRepository) UsersWithEvents(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT user_id
		 FROM point_events
		 WHERE created_at >= $1 AND created_at < $2
		 ORDER BY user_id`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("users with events: %w", err)
	}
	defer rows.Close()

	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("users with events: %w", err)
	}
	return users, nil
}

// ListByUser returns recent ledger rows for a user, newest first.
func (r *PointEventRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.PointEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, type, amount, source, meta, created_at
		 FROM point_events
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPointEvents(rows)
}

// GetByID returns one ledger row.
func (r *PointEventRepository) GetByID(ctx context.Context, id int64) (*domain.PointEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, type, amount, source, meta, created_at
		 FROM point_events WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events, err := scanPointEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events[0], nil
}

func scanPointEvents(rows pgx.Rows) ([]*domain.PointEvent, error) {
	var result []*domain.PointEvent

	for rows.Next() {
		var (
			ev       domain.PointEvent
			evType   string
			source   string
			metaJSON []byte
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &evType, &ev.Amount, &source, &metaJSON, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = domain.EarnType(evType)
		ev.Source = domain.Source(source)
		ev.CreatedAt = ev.CreatedAt.UTC()
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Meta); err != nil {
				return nil, fmt.Errorf("decode meta of point event %d: %w", ev.ID, err)
			}
		}
		result = append(result, &ev)
	}

	return result, rows.Err()
}
