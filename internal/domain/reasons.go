package domain

// Reason is the machine-readable code carried by every rejection.
type Reason string

const (
	ReasonMalformed        Reason = "malformed_input"
	ReasonUnauthenticated  Reason = "unauthenticated"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonInvalidType      Reason = "invalid_type"
	ReasonOverPerEventCap  Reason = "over_per_event_cap"
	ReasonCooldownActive   Reason = "cooldown_active"
	ReasonDailyCapExceeded Reason = "daily_cap_exceeded"
)
