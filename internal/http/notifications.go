package http

import (
	"context"

	"semaphore/devicehub/internal/notifications"
)

func draftFrom(p params) (notifications.Draft, error) {
	browser, err := p.boolean("allowBrowserUsage")
	if err != nil {
		return notifications.Draft{}, err
	}
	priority, err := p.integer("priority", 0)
	if err != nil {
		return notifications.Draft{}, err
	}
	return notifications.Draft{
		Message:           p.str("message"),
		AllowBrowserUsage: browser,
		AllowedWebsites:   p.list("allowedWebsites"),
		Priority:          priority,
	}, nil
}

type sentCount struct {
	Sent int `json:"sent"`
}

func (s *Server) sendNotificationToAllClients(ctx context.Context, c *call) (response, error) {
	draft, err := draftFrom(c.params)
	if err != nil {
		return response{}, err
	}
	sent, err := s.svc.Notifications.Broadcast(ctx, draft)
	if err != nil {
		return response{}, err
	}
	return ok(sentCount{Sent: sent}), nil
}

func (s *Server) sendNotificationToClient(ctx context.Context, c *call) (response, error) {
	if err := required(c.params, "clientId"); err != nil {
		return response{}, err
	}
	draft, err := draftFrom(c.params)
	if err != nil {
		return response{}, err
	}
	n, err := s.svc.Notifications.SendToClient(ctx, c.params.str("clientId"), draft)
	if err != nil {
		return response{}, err
	}
	return ok(n), nil
}

func (s *Server) getClientNotifications(ctx context.Context, c *call) (response, error) {
	inbox, err := s.svc.Notifications.Poll(ctx, c.params.str("clientId"))
	if err != nil {
		return response{}, err
	}
	return ok(inbox), nil
}

func (s *Server) getActiveNotifications(ctx context.Context, _ *call) (response, error) {
	open, err := s.svc.Notifications.ListOpen(ctx)
	if err != nil {
		return response{}, err
	}
	return ok(open), nil
}

func (s *Server) acknowledgeNotification(ctx context.Context, c *call) (response, error) {
	n, err := s.svc.Notifications.Acknowledge(ctx, c.params.str("notificationId"))
	if err != nil {
		return response{}, err
	}
	return ok(n), nil
}

func (s *Server) snoozeNotification(ctx context.Context, c *call) (response, error) {
	minutes, err := c.params.integer("snoozeMinutes", 0)
	if err != nil {
		return response{}, err
	}
	if minutes == 0 {
		if minutes, err = c.params.integer("minutes", 0); err != nil {
			return response{}, err
		}
	}
	n, err := s.svc.Notifications.Snooze(ctx, c.params.str("notificationId"), minutes)
	if err != nil {
		return response{}, err
	}
	return ok(n), nil
}

func (s *Server) updateNotificationStatus(ctx context.Context, c *call) (response, error) {
	minutes, err := c.params.integer("snoozeMinutes", 0)
	if err != nil {
		return response{}, err
	}
	n, err := s.svc.Notifications.SetStatus(ctx, c.params.str("notificationId"), c.params.str("status"), minutes)
	if err != nil {
		return response{}, err
	}
	return ok(n), nil
}

func (s *Server) requestWebsiteAccess(ctx context.Context, c *call) (response, error) {
	req, err := s.svc.Notifications.RequestWebsiteAccess(ctx, c.params.str("clientId"), c.params.str("url", "website"), c.params.str("reason"))
	if err != nil {
		return response{}, err
	}
	return okMessage("request submitted", req), nil
}

func (s *Server) reviewWebsiteAccessRequest(ctx context.Context, c *call) (response, error) {
	approve, err := c.params.decision()
	if err != nil {
		return response{}, err
	}
	if err := required(c.params, "requestId"); err != nil {
		return response{}, err
	}
	review, err := s.svc.Notifications.ReviewWebsiteAccess(ctx, c.params.str("requestId"), approve, c.actor().User.Username)
	if err != nil {
		return response{}, err
	}
	return ok(review), nil
}

func (s *Server) getWebsiteRequests(ctx context.Context, c *call) (response, error) {
	requests, err := s.svc.Notifications.ListWebsiteRequests(ctx, c.params.str("status"))
	if err != nil {
		return response{}, err
	}
	return ok(requests), nil
}

func (s *Server) requestUninstall(ctx context.Context, c *call) (response, error) {
	req, err := s.svc.Notifications.RequestUninstall(ctx, notifications.UninstallDraft{
		ClientID:     c.params.str("clientId"),
		ClientName:   c.params.str("clientName"),
		ComputerName: c.params.str("computerName", "hostname"),
		Reason:       c.params.str("reason"),
		Explanation:  c.params.str("explanation"),
	})
	if err != nil {
		return response{}, err
	}
	return okMessage("request submitted", req), nil
}

func (s *Server) reviewUninstallRequest(ctx context.Context, c *call) (response, error) {
	approve, err := c.params.decision()
	if err != nil {
		return response{}, err
	}
	if err := required(c.params, "requestId"); err != nil {
		return response{}, err
	}
	req, err := s.svc.Notifications.ReviewUninstall(ctx, c.params.str("requestId"), approve, c.actor().User.Username, c.params.str("denialReason"))
	if err != nil {
		return response{}, err
	}
	return ok(req), nil
}

func (s *Server) getUninstallRequests(ctx context.Context, c *call) (response, error) {
	requests, err := s.svc.Notifications.ListUninstallRequests(ctx, c.params.str("clientId"), c.params.str("status"))
	if err != nil {
		return response{}, err
	}
	return ok(requests), nil
}

func (s *Server) getClientUninstallStatus(ctx context.Context, c *call) (response, error) {
	if err := required(c.params, "requestId"); err != nil {
		return response{}, err
	}
	req, err := s.svc.Notifications.GetUninstallRequest(ctx, c.params.str("requestId"))
	if err != nil {
		return response{}, err
	}
	return ok(req), nil
}

type deletedCount struct {
	Deleted int `json:"deleted"`
}

func (s *Server) prune(ctx context.Context, c *call, category notifications.StaleCategory) (response, error) {
	days, err := c.params.integer("days", 0)
	if err != nil {
		return response{}, err
	}
	deleted, err := s.svc.Notifications.PruneStale(ctx, category, days)
	if err != nil {
		return response{}, err
	}
	return ok(deletedCount{Deleted: deleted}), nil
}

func (s *Server) removeOldActiveNotifications(ctx context.Context, c *call) (response, error) {
	return s.prune(ctx, c, notifications.StaleActive)
}

func (s *Server) cleanOldNotifications(ctx context.Context, c *call) (response, error) {
	return s.prune(ctx, c, notifications.StaleCompleted)
}

func (s *Server) clearOldWebsiteRequests(ctx context.Context, c *call) (response, error) {
	return s.prune(ctx, c, notifications.StaleRequests)
}
