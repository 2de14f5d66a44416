// Package notifications owns the notification lifecycle delivered to devices
// and the exception requests devices raise against it.
package notifications

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/clock"
	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
)

// openStatuses are every status a device still acts on.
var openStatuses = []model.NotificationStatus{
	model.NotificationPending,
	model.NotificationActive,
	model.NotificationSnoozed,
	model.NotificationSystem,
}

// ClientDirectory lists the devices a broadcast fans out to.
type ClientDirectory interface {
	ActiveClientIDs(ctx context.Context) ([]string, error)
}

type Retention struct {
	ActiveDays    int
	CompletedDays int
	RequestDays   int
}

type Options struct {
	Clock     clock.Clock
	Logger    zerolog.Logger
	Retention Retention
}

type Ledger struct {
	notifications store.Notifications
	requests      store.Requests
	clients       ClientDirectory
	clock         clock.Clock
	log           zerolog.Logger
	retention     Retention
}

func NewLedger(notifications store.Notifications, requests store.Requests, clients ClientDirectory, opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Retention.ActiveDays <= 0 {
		opts.Retention.ActiveDays = 2
	}
	if opts.Retention.CompletedDays <= 0 {
		opts.Retention.CompletedDays = 7
	}
	if opts.Retention.RequestDays <= 0 {
		opts.Retention.RequestDays = 30
	}
	return &Ledger{
		notifications: notifications,
		requests:      requests,
		clients:       clients,
		clock:         opts.Clock,
		log:           opts.Logger,
		retention:     opts.Retention,
	}
}

type Draft struct {
	Message           string
	AllowBrowserUsage bool
	AllowedWebsites   []string
	Priority          int
}

func (d Draft) validate() error {
	if strings.TrimSpace(d.Message) == "" {
		return fmt.Errorf("%w: message is required", apperr.ErrValidation)
	}
	return nil
}

func (l *Ledger) newNotification(clientID string, d Draft, status model.NotificationStatus, now time.Time) model.Notification {
	sites := make([]string, 0, len(d.AllowedWebsites))
	for _, site := range d.AllowedWebsites {
		if normalized := NormalizeURL(site); normalized != "" && !containsFold(sites, normalized) {
			sites = append(sites, normalized)
		}
	}
	return model.Notification{
		ID:                uuid.NewString(),
		ClientID:          clientID,
		Message:           strings.TrimSpace(d.Message),
		Status:            status,
		CreatedAt:         now,
		UpdatedAt:         now,
		AllowBrowserUsage: d.AllowBrowserUsage,
		AllowedWebsites:   sites,
		Priority:          d.Priority,
	}
}

// Broadcast writes one pending notification per registered device and
// returns how many were written.
func (l *Ledger) Broadcast(ctx context.Context, d Draft) (int, error) {
	if err := d.validate(); err != nil {
		return 0, err
	}
	clientIDs, err := l.clients.ActiveClientIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(clientIDs) == 0 {
		return 0, nil
	}

	now := l.clock.Now()
	batch := make([]model.Notification, 0, len(clientIDs))
	for _, clientID := range clientIDs {
		batch = append(batch, l.newNotification(clientID, d, model.NotificationPending, now))
	}
	count, err := l.notifications.InsertNotifications(ctx, batch)
	if err != nil {
		return 0, err
	}
	l.log.Info().Int("devices", count).Int("priority", d.Priority).Msg("notification broadcast")
	return count, nil
}

// SendToClient addresses a single device, or every device when clientID is
// "all".
func (l *Ledger) SendToClient(ctx context.Context, clientID string, d Draft) (model.Notification, error) {
	if strings.TrimSpace(clientID) == "" {
		return model.Notification{}, fmt.Errorf("%w: clientId is required", apperr.ErrValidation)
	}
	if err := d.validate(); err != nil {
		return model.Notification{}, err
	}
	n := l.newNotification(clientID, d, model.NotificationPending, l.clock.Now())
	if _, err := l.notifications.InsertNotifications(ctx, []model.Notification{n}); err != nil {
		return model.Notification{}, err
	}
	l.log.Info().Str("client_id", clientID).Str("notification_id", n.ID).Msg("notification sent")
	return n, nil
}

// Poll returns the device inbox: open notifications addressed to the device
// or to all devices whose snooze has elapsed, most urgent first and oldest
// first within a priority.
func (l *Ledger) Poll(ctx context.Context, clientID string) ([]model.Notification, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: clientId is required", apperr.ErrValidation)
	}
	all, err := l.notifications.ListNotifications(ctx, store.NotificationFilter{
		ClientIDs: []string{clientID, model.AllClients},
		Statuses:  openStatuses,
	})
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	inbox := make([]model.Notification, 0, len(all))
	for _, n := range all {
		if n.SnoozeUntil != nil && n.SnoozeUntil.After(now) {
			continue
		}
		inbox = append(inbox, n)
	}
	sort.SliceStable(inbox, func(i, j int) bool {
		if inbox[i].Priority != inbox[j].Priority {
			return inbox[i].Priority > inbox[j].Priority
		}
		return inbox[i].CreatedAt.Before(inbox[j].CreatedAt)
	})
	return inbox, nil
}

// ListOpen is the administrative view of every notification not yet
// completed, snoozed ones included.
func (l *Ledger) ListOpen(ctx context.Context) ([]model.Notification, error) {
	return l.notifications.ListNotifications(ctx, store.NotificationFilter{Statuses: openStatuses})
}

func (l *Ledger) Get(ctx context.Context, id string) (model.Notification, error) {
	return l.notifications.GetNotification(ctx, id)
}

// SetStatus moves a notification to status. A positive snoozeMinutes snoozes
// it regardless of status. Completed notifications and system directives
// reject every change, and no caller may move a notification into system.
func (l *Ledger) SetStatus(ctx context.Context, id, status string, snoozeMinutes int) (model.Notification, error) {
	if id == "" {
		return model.Notification{}, fmt.Errorf("%w: notificationId is required", apperr.ErrValidation)
	}
	if snoozeMinutes < 0 {
		return model.Notification{}, fmt.Errorf("%w: snoozeMinutes must not be negative", apperr.ErrValidation)
	}

	now := l.clock.Now()
	var next model.NotificationStatus
	var snoozeUntil *time.Time
	if snoozeMinutes > 0 {
		next = model.NotificationSnoozed
		until := now.Add(time.Duration(snoozeMinutes) * time.Minute)
		snoozeUntil = &until
	} else {
		parsed, ok := model.ParseNotificationStatus(strings.ToLower(strings.TrimSpace(status)))
		if !ok {
			return model.Notification{}, fmt.Errorf("%w: unknown status %q", apperr.ErrValidation, status)
		}
		if parsed == model.NotificationSnoozed {
			return model.Notification{}, fmt.Errorf("%w: snoozeMinutes is required to snooze", apperr.ErrValidation)
		}
		if parsed == model.NotificationSystem {
			return model.Notification{}, fmt.Errorf("%w: system status is reserved for directives", apperr.ErrInvalidTransition)
		}
		next = parsed
	}

	current, err := l.notifications.GetNotification(ctx, id)
	if err != nil {
		return model.Notification{}, err
	}
	switch current.Status {
	case model.NotificationCompleted:
		return model.Notification{}, fmt.Errorf("%w: notification %s is completed", apperr.ErrInvalidTransition, id)
	case model.NotificationSystem:
		return model.Notification{}, fmt.Errorf("%w: notification %s is a system directive", apperr.ErrInvalidTransition, id)
	}

	if err := l.notifications.UpdateNotificationStatus(ctx, id, next, snoozeUntil, now); err != nil {
		return model.Notification{}, err
	}
	l.log.Info().Str("notification_id", id).Str("status", string(next)).Msg("notification status changed")
	return l.notifications.GetNotification(ctx, id)
}

func (l *Ledger) Acknowledge(ctx context.Context, id string) (model.Notification, error) {
	return l.SetStatus(ctx, id, string(model.NotificationCompleted), 0)
}

func (l *Ledger) Snooze(ctx context.Context, id string, minutes int) (model.Notification, error) {
	if minutes <= 0 {
		return model.Notification{}, fmt.Errorf("%w: snoozeMinutes must be positive", apperr.ErrValidation)
	}
	return l.SetStatus(ctx, id, "", minutes)
}
