package jobs

import (
	"context"
	"errors"
	"fmt"

	"points_service/internal/domain"
	"points_service/internal/logger"
	"points_service/internal/service"
)

// Presence lists users currently connected to the live feed.
type Presence interface {
	ActiveUsers() []string
}

type SystemSubmitter interface {
	SubmitSystem(ctx context.Context, userID string, t domain.EarnType, amount int64, meta map[string]interface{}) (*domain.PointEvent, error)
}

// UptimeTick credits uptime_minute points to every connected user. Policy
// rejections (cooldown, daily cap) are expected and only logged at debug;
// storage failures are collected and returned so the scheduler counts them.
func UptimeTick(presence Presence, submitter SystemSubmitter, points int64) JobFunc {
	return func(ctx context.Context) error {
		var (
			errs     []error
			accepted int
		)
		users := presence.ActiveUsers()
		for _, userID := range users {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			_, err := submitter.SubmitSystem(ctx, userID, domain.EarnUptimeMinute, points, map[string]interface{}{
				"origin": "uptime_tick",
			})
			if err == nil {
				accepted++
				continue
			}
			if r, ok := service.AsRejection(err); ok {
				logger.Debug("uptime credit skipped", "user_id", userID, "reason", r.Reason)
				continue
			}
			errs = append(errs, fmt.Errorf("uptime credit for %s: %w", userID, err))
		}
		logger.Debug("uptime tick", "online", len(users), "credited", accepted)
		return errors.Join(errs...)
	}
}
