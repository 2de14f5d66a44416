package notifications

import (
	"context"
	"strings"

	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
)

// uninstallPriority keeps the directive ahead of ordinary notifications.
const uninstallPriority = 100

type UninstallReport struct {
	Targeted  int      `json:"targeted"`
	Queued    int      `json:"queued"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failedClientIds,omitempty"`
}

// QueueUninstall pushes a System uninstall directive to each client. An
// empty list targets every registered device. Failures are counted per
// client instead of aborting the batch.
func (l *Ledger) QueueUninstall(ctx context.Context, clientIDs []string) (UninstallReport, error) {
	if len(clientIDs) == 0 {
		active, err := l.clients.ActiveClientIDs(ctx)
		if err != nil {
			return UninstallReport{}, err
		}
		clientIDs = active
	}

	report := UninstallReport{Targeted: len(clientIDs)}
	now := l.clock.Now()
	for _, clientID := range clientIDs {
		clientID = strings.TrimSpace(clientID)
		if clientID == "" {
			report.Failed++
			continue
		}
		n := l.newNotification(clientID, Draft{Message: model.UninstallDirective, Priority: uninstallPriority}, model.NotificationSystem, now)
		if _, err := l.notifications.InsertNotifications(ctx, []model.Notification{n}); err != nil {
			l.log.Error().Err(err).Str("client_id", clientID).Msg("failed to queue uninstall directive")
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, clientID)
			continue
		}
		report.Queued++
	}
	l.log.Info().Int("targeted", report.Targeted).Int("queued", report.Queued).Int("failed", report.Failed).Msg("uninstall queued")
	return report, nil
}

// UninstallAuthorized reports whether the device holds an approved uninstall
// request that has not been used yet, or an open uninstall directive.
func (l *Ledger) UninstallAuthorized(ctx context.Context, clientID string) (bool, error) {
	approved, err := l.unusedApprovals(ctx, clientID)
	if err != nil {
		return false, err
	}
	if len(approved) > 0 {
		return true, nil
	}
	directives, err := l.openDirectives(ctx, clientID)
	if err != nil {
		return false, err
	}
	return len(directives) > 0, nil
}

type UninstallCompletion struct {
	Directives int `json:"directives"`
	Requests   int `json:"requests"`
}

// CompleteUninstall retires everything that authorized the device to remove
// itself: open directives move to completed and approved requests are stamped
// with CompletedAt.
func (l *Ledger) CompleteUninstall(ctx context.Context, clientID string) (UninstallCompletion, error) {
	var done UninstallCompletion
	directives, err := l.openDirectives(ctx, clientID)
	if err != nil {
		return done, err
	}
	now := l.clock.Now()
	for _, n := range directives {
		if err := l.notifications.UpdateNotificationStatus(ctx, n.ID, model.NotificationCompleted, nil, now); err != nil {
			return done, err
		}
		done.Directives++
	}

	approved, err := l.unusedApprovals(ctx, clientID)
	if err != nil {
		return done, err
	}
	for _, req := range approved {
		completedAt := now
		req.CompletedAt = &completedAt
		if err := l.requests.UpdateUninstallRequest(ctx, req); err != nil {
			return done, err
		}
		done.Requests++
	}
	l.log.Info().Str("client_id", clientID).Int("directives", done.Directives).Int("requests", done.Requests).Msg("uninstall completed")
	return done, nil
}

func (l *Ledger) unusedApprovals(ctx context.Context, clientID string) ([]model.UninstallRequest, error) {
	approved, err := l.requests.ListUninstallRequests(ctx, clientID, model.RequestApproved)
	if err != nil {
		return nil, err
	}
	unused := approved[:0]
	for _, req := range approved {
		if req.CompletedAt == nil {
			unused = append(unused, req)
		}
	}
	return unused, nil
}

func (l *Ledger) openDirectives(ctx context.Context, clientID string) ([]model.Notification, error) {
	system, err := l.notifications.ListNotifications(ctx, store.NotificationFilter{
		ClientIDs: []string{clientID},
		Statuses:  []model.NotificationStatus{model.NotificationSystem},
	})
	if err != nil {
		return nil, err
	}
	directives := system[:0]
	for _, n := range system {
		if n.Message == model.UninstallDirective {
			directives = append(directives, n)
		}
	}
	return directives, nil
}
