package service

import (
	"errors"
	"fmt"
	"time"

	"points_service/internal/domain"
)

var (
	ErrUnknownScope = errors.New("unknown rollup scope")
	ErrBadBucket    = errors.New("invalid bucket key")
)

// Rejection is returned when an event is refused for a reason the caller can
// act on. Anything else returned by the ingestor is an internal failure.
type Rejection struct {
	Reason     domain.Reason
	Message    string
	RetryAfter time.Duration
	// Remaining is meaningful for rate_limited (slots left, always 0) and
	// daily_cap_exceeded (points still available today).
	Remaining int64
	Limit     int64
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

func reject(reason domain.Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a *Rejection.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
