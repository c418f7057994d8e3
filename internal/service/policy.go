package service

import (
	"context"
	"fmt"
	"time"

	"points_service/internal/domain"
	"points_service/internal/repository"
)

// DailyWindow is the trailing interval the daily cap applies to.
const DailyWindow = 24 * time.Hour

// PolicyEngine decides whether one event may be accepted. It holds no state
// of its own; history comes from the ledger reader passed to Authorize.
type PolicyEngine struct {
	table domain.PolicyTable
}

func NewPolicyEngine(table domain.PolicyTable) *PolicyEngine {
	return &PolicyEngine{table: table}
}

func (p *PolicyEngine) Table() domain.PolicyTable {
	return p.table
}

func (p *PolicyEngine) Lookup(t domain.EarnType) (domain.Policy, bool) {
	return p.table.Lookup(t)
}

// Authorize runs the checks in order: known type, per-event cap, cooldown,
// trailing 24h cap including this event. It returns nil, a *Rejection, or a
// storage error.
func (p *PolicyEngine) Authorize(ctx context.Context, reader repository.EventReader, userID string, t domain.EarnType, amount int64, now time.Time) error {
	pol, ok := p.table.Lookup(t)
	if !ok {
		return reject(domain.ReasonInvalidType, "unknown earn type %q", t)
	}

	if amount > pol.MaxPerEvent {
		r := reject(domain.ReasonOverPerEventCap, "amount %d exceeds per-event cap %d", amount, pol.MaxPerEvent)
		r.Limit = pol.MaxPerEvent
		return r
	}

	if pol.CooldownSec > 0 {
		last, found, err := reader.LastEventAt(ctx, userID, t)
		if err != nil {
			return fmt.Errorf("policy cooldown lookup: %w", err)
		}
		cooldown := time.Duration(pol.CooldownSec) * time.Second
		if elapsed := now.Sub(last); found && elapsed < cooldown {
			r := reject(domain.ReasonCooldownActive, "%s is on cooldown", t)
			r.RetryAfter = cooldown - elapsed
			return r
		}
	}

	earned, err := reader.SumSince(ctx, userID, now.Add(-DailyWindow))
	if err != nil {
		return fmt.Errorf("policy daily sum: %w", err)
	}
	if earned+amount > p.table.DailyCap {
		r := reject(domain.ReasonDailyCapExceeded, "daily cap %d reached", p.table.DailyCap)
		r.Remaining = max(p.table.DailyCap-earned, 0)
		r.Limit = p.table.DailyCap
		return r
	}
	return nil
}

// RemainingToday reports how many points the user can still earn in the
// trailing window.
func (p *PolicyEngine) RemainingToday(ctx context.Context, reader repository.EventReader, userID string, now time.Time) (earned, remaining int64, err error) {
	earned, err = reader.SumSince(ctx, userID, now.Add(-DailyWindow))
	if err != nil {
		return 0, 0, err
	}
	return earned, max(p.table.DailyCap-earned, 0), nil
}
