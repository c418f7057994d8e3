package repository

import (
	"context"
	"errors"
	"time"

	"points_service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

// EventReader is what the policy engine needs from the ledger.
type EventReader interface {
	// LastEventAt returns the created_at of the user's most recent event of
	// type t, and false when there is none.
	LastEventAt(ctx context.Context, userID string, t domain.EarnType) (time.Time, bool, error)
	// SumSince sums the user's amounts with created_at > since.
	SumSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// EventStore reads and appends ledger rows.
type EventStore interface {
	EventReader
	Append(ctx context.Context, e *domain.PointEvent) error
}

// Ledger is the append-only point_events store.
type Ledger interface {
	EventStore

	// WithUserLock runs fn while holding the user's serialization lock. Reads
	// and the append done through the store passed to fn are atomic with
	// respect to other WithUserLock calls for the same user.
	WithUserLock(ctx context.Context, userID string, fn func(EventStore) error) error

	// SumRange sums amounts with from <= created_at < to.
	SumRange(ctx context.Context, userID string, from, to time.Time) (sum int64, count int64, err error)
	// UsersWithEvents lists users having at least one event in [from, to).
	UsersWithEvents(ctx context.Context, from, to time.Time) ([]string, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.PointEvent, error)
}

// MetricsStore holds derived rollup rows. Upserts replace, never add.
type MetricsStore interface {
	UpsertHourly(ctx context.Context, m *domain.MetricsHourly) error
	UpsertDaily(ctx context.Context, m *domain.MetricsDaily) error
	GetHourly(ctx context.Context, userID string, hour time.Time) (*domain.MetricsHourly, error)
	GetDaily(ctx context.Context, userID string, day time.Time) (*domain.MetricsDaily, error)
	ListHourly(ctx context.Context, userID string, from, to time.Time) ([]*domain.MetricsHourly, error)
	ListDaily(ctx context.Context, userID string, from, to time.Time) ([]*domain.MetricsDaily, error)
}

type AuditStore interface {
	Create(ctx context.Context, log *domain.AuditLog) error
	GetByCategory(ctx context.Context, category string, limit int) ([]*domain.AuditLog, error)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
