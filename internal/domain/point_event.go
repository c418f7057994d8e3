package domain

import "time"

// EarnType identifies what an event is being paid for.
type EarnType string

const (
	EarnExtensionFarm  EarnType = "extension_farm"
	EarnUptimeMinute   EarnType = "uptime_minute"
	EarnBandwidthShare EarnType = "bandwidth_share"
	EarnReferral       EarnType = "referral"
	EarnReferralBonus  EarnType = "referral_bonus"
)

// Source says who produced an event. Client events come from untrusted callers,
// system events from the scheduler.
type Source string

const (
	SourceClient Source = "client"
	SourceSystem Source = "system"
)

// PointEvent is one ledger row. Rows are append-only: never updated or deleted.
type PointEvent struct {
	ID        int64                  `db:"id" json:"id,string"`
	UserID    string                 `db:"user_id" json:"user_id"`
	Type      EarnType               `db:"type" json:"type"`
	Amount    int64                  `db:"amount" json:"amount"`
	Source    Source                 `db:"source" json:"source"`
	Meta      map[string]interface{} `db:"meta" json:"meta,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}
