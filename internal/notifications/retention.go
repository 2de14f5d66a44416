package notifications

import (
	"context"
	"fmt"
	"time"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/model"
)

type StaleCategory string

const (
	StaleActive    StaleCategory = "active"
	StaleCompleted StaleCategory = "completed"
	StaleRequests  StaleCategory = "requests"
)

// PruneStale deletes records of one category older than days. A
// non-positive days uses the configured window of the category.
func (l *Ledger) PruneStale(ctx context.Context, category StaleCategory, days int) (int, error) {
	var deleted int
	var err error
	switch category {
	case StaleActive:
		cutoff := l.cutoff(days, l.retention.ActiveDays)
		deleted, err = l.notifications.DeleteNotifications(ctx, []model.NotificationStatus{
			model.NotificationPending,
			model.NotificationActive,
			model.NotificationSnoozed,
		}, cutoff)
	case StaleCompleted:
		cutoff := l.cutoff(days, l.retention.CompletedDays)
		deleted, err = l.notifications.DeleteNotifications(ctx, []model.NotificationStatus{model.NotificationCompleted}, cutoff)
	case StaleRequests:
		cutoff := l.cutoff(days, l.retention.RequestDays)
		deleted, err = l.requests.DeleteWebsiteRequests(ctx, []model.RequestStatus{model.RequestApproved, model.RequestDenied}, cutoff)
	default:
		return 0, fmt.Errorf("%w: unknown retention category %q", apperr.ErrValidation, category)
	}
	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		l.log.Info().Str("category", string(category)).Int("deleted", deleted).Msg("stale records pruned")
	}
	return deleted, nil
}

func (l *Ledger) cutoff(days, fallback int) time.Time {
	if days <= 0 {
		days = fallback
	}
	return l.clock.Now().AddDate(0, 0, -days)
}
