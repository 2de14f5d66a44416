package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
)

func (l *Ledger) RequestWebsiteAccess(ctx context.Context, clientID, url, reason string) (model.WebsiteRequest, error) {
	if strings.TrimSpace(clientID) == "" {
		return model.WebsiteRequest{}, fmt.Errorf("%w: clientId is required", apperr.ErrValidation)
	}
	if NormalizeURL(url) == "" {
		return model.WebsiteRequest{}, fmt.Errorf("%w: url is required", apperr.ErrValidation)
	}
	req := model.WebsiteRequest{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		URL:       strings.TrimSpace(url),
		Reason:    strings.TrimSpace(reason),
		Status:    model.RequestPending,
		CreatedAt: l.clock.Now(),
	}
	if err := l.requests.CreateWebsiteRequest(ctx, req); err != nil {
		return model.WebsiteRequest{}, err
	}
	l.log.Info().Str("client_id", clientID).Str("request_id", req.ID).Msg("website access requested")
	return req, nil
}

type WebsiteReview struct {
	Request              model.WebsiteRequest `json:"request"`
	Domain               string               `json:"domain,omitempty"`
	UpdatedNotifications int                  `json:"updatedNotifications"`
}

// ReviewWebsiteAccess records the decision. Approval appends the normalized
// domain to every open, browser-enabled notification of the device and fails
// with ErrNotFound when there is none.
func (l *Ledger) ReviewWebsiteAccess(ctx context.Context, id string, approve bool, reviewer string) (WebsiteReview, error) {
	req, err := l.requests.GetWebsiteRequest(ctx, id)
	if err != nil {
		return WebsiteReview{}, err
	}

	review := WebsiteReview{}
	now := l.clock.Now()
	if approve {
		domain := NormalizeURL(req.URL)
		eligible, err := l.notifications.ListNotifications(ctx, store.NotificationFilter{
			ClientIDs: []string{req.ClientID},
			Statuses:  []model.NotificationStatus{model.NotificationPending, model.NotificationActive, model.NotificationSnoozed},
		})
		if err != nil {
			return WebsiteReview{}, err
		}
		browsable := 0
		for _, n := range eligible {
			if !n.AllowBrowserUsage {
				continue
			}
			browsable++
			if containsFold(n.AllowedWebsites, domain) {
				continue
			}
			sites := append(append([]string(nil), n.AllowedWebsites...), domain)
			if err := l.notifications.SetAllowedWebsites(ctx, n.ID, sites, now); err != nil {
				return WebsiteReview{}, err
			}
			review.UpdatedNotifications++
		}
		if browsable == 0 {
			return WebsiteReview{}, fmt.Errorf("%w: no active browser-enabled notification for %s", apperr.ErrNotFound, req.ClientID)
		}
		review.Domain = domain
		req.Status = model.RequestApproved
	} else {
		req.Status = model.RequestDenied
	}

	req.ReviewedBy = &reviewer
	req.ReviewedAt = &now
	if err := l.requests.UpdateWebsiteRequest(ctx, req); err != nil {
		return WebsiteReview{}, err
	}
	review.Request = req
	l.log.Info().
		Str("request_id", req.ID).
		Str("status", string(req.Status)).
		Int("updated_notifications", review.UpdatedNotifications).
		Msg("website request reviewed")
	return review, nil
}

func (l *Ledger) ListWebsiteRequests(ctx context.Context, status string) ([]model.WebsiteRequest, error) {
	parsed, err := parseRequestStatus(status)
	if err != nil {
		return nil, err
	}
	return l.requests.ListWebsiteRequests(ctx, parsed)
}

type UninstallDraft struct {
	ClientID     string
	ClientName   string
	ComputerName string
	Reason       string
	Explanation  string
}

func (l *Ledger) RequestUninstall(ctx context.Context, d UninstallDraft) (model.UninstallRequest, error) {
	if strings.TrimSpace(d.ClientID) == "" {
		return model.UninstallRequest{}, fmt.Errorf("%w: clientId is required", apperr.ErrValidation)
	}
	if strings.TrimSpace(d.Reason) == "" {
		return model.UninstallRequest{}, fmt.Errorf("%w: reason is required", apperr.ErrValidation)
	}
	req := model.UninstallRequest{
		ID:           uuid.NewString(),
		ClientID:     d.ClientID,
		ClientName:   d.ClientName,
		ComputerName: d.ComputerName,
		Reason:       strings.TrimSpace(d.Reason),
		Explanation:  strings.TrimSpace(d.Explanation),
		Status:       model.RequestPending,
		CreatedAt:    l.clock.Now(),
	}
	if err := l.requests.CreateUninstallRequest(ctx, req); err != nil {
		return model.UninstallRequest{}, err
	}
	l.log.Info().Str("client_id", d.ClientID).Str("request_id", req.ID).Msg("uninstall requested")
	return req, nil
}

// ReviewUninstall only flips the request status. A pending request can be
// reviewed once.
func (l *Ledger) ReviewUninstall(ctx context.Context, id string, approve bool, reviewer, denialReason string) (model.UninstallRequest, error) {
	req, err := l.requests.GetUninstallRequest(ctx, id)
	if err != nil {
		return model.UninstallRequest{}, err
	}
	if req.Status != model.RequestPending {
		return model.UninstallRequest{}, fmt.Errorf("%w: uninstall request already %s", apperr.ErrInvalidTransition, req.Status)
	}
	req.ReviewedBy = &reviewer
	if approve {
		req.Status = model.RequestApproved
	} else {
		req.Status = model.RequestDenied
		if denialReason = strings.TrimSpace(denialReason); denialReason != "" {
			req.DenialReason = &denialReason
		}
	}
	if err := l.requests.UpdateUninstallRequest(ctx, req); err != nil {
		return model.UninstallRequest{}, err
	}
	l.log.Info().Str("request_id", req.ID).Str("status", string(req.Status)).Msg("uninstall request reviewed")
	return req, nil
}

func (l *Ledger) ListUninstallRequests(ctx context.Context, clientID, status string) ([]model.UninstallRequest, error) {
	parsed, err := parseRequestStatus(status)
	if err != nil {
		return nil, err
	}
	return l.requests.ListUninstallRequests(ctx, clientID, parsed)
}

func (l *Ledger) GetUninstallRequest(ctx context.Context, id string) (model.UninstallRequest, error) {
	return l.requests.GetUninstallRequest(ctx, id)
}

func parseRequestStatus(value string) (model.RequestStatus, error) {
	switch status := model.RequestStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case "", model.RequestPending, model.RequestApproved, model.RequestDenied:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown request status %q", apperr.ErrValidation, value)
	}
}
