package service

import (
	"context"
	"testing"
	"time"

	"points_service/internal/domain"
	"points_service/internal/repository/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func appendAt(t *testing.T, l *memory.Ledger, user string, typ domain.EarnType, amount int64, at time.Time) {
	t.Helper()
	if err := l.Append(context.Background(), &domain.PointEvent{UserID: user, Type: typ, Amount: amount, CreatedAt: at}); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func wantReason(t *testing.T, err error, reason domain.Reason) *Rejection {
	t.Helper()
	r, ok := AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection %s, got %v", reason, err)
	}
	if r.Reason != reason {
		t.Fatalf("expected %s, got %s", reason, r.Reason)
	}
	return r
}

func TestAuthorize_UnknownType(t *testing.T) {
	p := NewPolicyEngine(domain.DefaultPolicyTable())
	err := p.Authorize(context.Background(), memory.NewLedger(), "u1", "quest_complete", 1, t0)
	wantReason(t, err, domain.ReasonInvalidType)
}

func TestAuthorize_PerEventCap(t *testing.T) {
	p := NewPolicyEngine(domain.DefaultPolicyTable())
	l := memory.NewLedger()

	err := p.Authorize(context.Background(), l, "u1", domain.EarnExtensionFarm, 201, t0)
	wantReason(t, err, domain.ReasonOverPerEventCap)

	if err := p.Authorize(context.Background(), l, "u1", domain.EarnExtensionFarm, 200, t0); err != nil {
		t.Fatalf("200 should be accepted: %v", err)
	}
}

func TestAuthorize_Cooldown(t *testing.T) {
	p := NewPolicyEngine(domain.DefaultPolicyTable())
	l := memory.NewLedger()
	appendAt(t, l, "u1", domain.EarnExtensionFarm, 10, t0)

	err := p.Authorize(context.Background(), l, "u1", domain.EarnExtensionFarm, 10, t0.Add(4*time.Second))
	r := wantReason(t, err, domain.ReasonCooldownActive)
	if r.RetryAfter != 6*time.Second {
		t.Fatalf("retry after = %s", r.RetryAfter)
	}

	if err := p.Authorize(context.Background(), l, "u1", domain.EarnExtensionFarm, 10, t0.Add(10*time.Second)); err != nil {
		t.Fatalf("after cooldown should be accepted: %v", err)
	}

	// cooldown is per type
	if err := p.Authorize(context.Background(), l, "u1", domain.EarnBandwidthShare, 10, t0.Add(time.Second)); err != nil {
		t.Fatalf("other type must not be on cooldown: %v", err)
	}
}

func TestAuthorize_DailyCap(t *testing.T) {
	p := NewPolicyEngine(domain.DefaultPolicyTable())
	l := memory.NewLedger()
	for i := 0; i < 3; i++ {
		appendAt(t, l, "u1", domain.EarnReferral, 500, t0.Add(-time.Duration(i+1)*time.Hour))
	}
	appendAt(t, l, "u1", domain.EarnReferralBonus, 250, t0.Add(-30*time.Minute))

	// 1750 earned, 300 is within referral's 500 cap but crosses 2000
	err := p.Authorize(context.Background(), l, "u1", domain.EarnReferral, 300, t0)
	r := wantReason(t, err, domain.ReasonDailyCapExceeded)
	if r.Remaining != 250 {
		t.Fatalf("remaining = %d", r.Remaining)
	}

	if err := p.Authorize(context.Background(), l, "u1", domain.EarnReferral, 250, t0); err != nil {
		t.Fatalf("exactly reaching the cap is allowed: %v", err)
	}

	// events older than 24h fall out of the window
	later := t0.Add(-time.Hour).Add(DailyWindow)
	if err := p.Authorize(context.Background(), l, "u1", domain.EarnReferral, 500, later); err != nil {
		t.Fatalf("oldest event should have aged out: %v", err)
	}
}

func TestAuthorize_ChecksRunInOrder(t *testing.T) {
	table := domain.DefaultPolicyTable()
	table.DailyCap = 100
	p := NewPolicyEngine(table)
	l := memory.NewLedger()
	appendAt(t, l, "u1", domain.EarnExtensionFarm, 100, t0)

	// over cap, on cooldown and over daily: per-event cap wins
	err := p.Authorize(context.Background(), l, "u1", domain.EarnExtensionFarm, 201, t0.Add(time.Second))
	wantReason(t, err, domain.ReasonOverPerEventCap)

	// on cooldown and over daily: cooldown wins
	err = p.Authorize(context.Background(), l, "u1", domain.EarnExtensionFarm, 50, t0.Add(time.Second))
	wantReason(t, err, domain.ReasonCooldownActive)
}

func TestRemainingToday(t *testing.T) {
	p := NewPolicyEngine(domain.DefaultPolicyTable())
	l := memory.NewLedger()
	appendAt(t, l, "u1", domain.EarnReferral, 500, t0.Add(-time.Hour))

	earned, remaining, err := p.RemainingToday(context.Background(), l, "u1", t0)
	if err != nil || earned != 500 || remaining != 1500 {
		t.Fatalf("earned=%d remaining=%d err=%v", earned, remaining, err)
	}
}
