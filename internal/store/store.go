// Package store defines the persistence interface for the service. Every
// component depends only on the narrow interface it needs; the memory and
// postgres adapters satisfy all of them through Store.
//
// Adapters report failures with the apperr sentinels: ErrNotFound for
// missing records, ErrConflict for uniqueness violations,
// ErrInvalidTransition when a conditional update hits a terminal record, and
// ErrStoreUnavailable when the backend cannot be reached.
package store

import (
	"context"
	"time"

	"semaphore/devicehub/internal/model"
)

type Users interface {
	CreateUser(ctx context.Context, user model.User) error
	GetUserByID(ctx context.Context, id string) (model.User, error)
	// GetUserByLogin matches username or email, case-insensitively.
	GetUserByLogin(ctx context.Context, login string) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, user model.User) error
	// DeleteUser removes the user together with its sessions.
	DeleteUser(ctx context.Context, id string) error
}

type Sessions interface {
	CreateSession(ctx context.Context, session model.Session) error
	GetSession(ctx context.Context, id string) (model.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) (int, error)
}

type Devices interface {
	GetMacClient(ctx context.Context, macAddress string) (model.MacClient, error)
	ListMacClients(ctx context.Context) ([]model.MacClient, error)
	SaveMacClient(ctx context.Context, client model.MacClient) error
	GetInstallation(ctx context.Context, clientID string) (model.Installation, error)
	// ListInstallations returns the history of one MAC, oldest first.
	ListInstallations(ctx context.Context, macAddress string) ([]model.Installation, error)
	ListActiveInstallations(ctx context.Context) ([]model.Installation, error)
	// RebindInstallation retires every active installation on the MAC, stores
	// installation as the active one and saves client, all at once. It returns
	// how many installations were retired. previousCount is the installation
	// count the caller read, 0 for an unseen MAC; ErrConflict when the MAC
	// client no longer matches it.
	RebindInstallation(ctx context.Context, client model.MacClient, installation model.Installation, previousCount int, reason string) (int, error)
	// DeactivateInstallation retires one installation; ErrNotFound when it is
	// unknown or already inactive.
	DeactivateInstallation(ctx context.Context, clientID string, at time.Time, reason string) error
	UpdateInstallationCheckin(ctx context.Context, clientID, version string, at time.Time) error
}

// NotificationFilter selects notifications; empty fields match everything.
type NotificationFilter struct {
	ClientIDs []string
	Statuses  []model.NotificationStatus
}

type Notifications interface {
	InsertNotifications(ctx context.Context, notifications []model.Notification) (int, error)
	GetNotification(ctx context.Context, id string) (model.Notification, error)
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]model.Notification, error)
	// UpdateNotificationStatus and SetAllowedWebsites only apply to open
	// notifications and fail with ErrInvalidTransition on completed ones.
	UpdateNotificationStatus(ctx context.Context, id string, status model.NotificationStatus, snoozeUntil *time.Time, at time.Time) error
	SetAllowedWebsites(ctx context.Context, id string, sites []string, at time.Time) error
	DeleteNotifications(ctx context.Context, statuses []model.NotificationStatus, olderThan time.Time) (int, error)
}

type Requests interface {
	CreateWebsiteRequest(ctx context.Context, req model.WebsiteRequest) error
	GetWebsiteRequest(ctx context.Context, id string) (model.WebsiteRequest, error)
	ListWebsiteRequests(ctx context.Context, status model.RequestStatus) ([]model.WebsiteRequest, error)
	UpdateWebsiteRequest(ctx context.Context, req model.WebsiteRequest) error
	DeleteWebsiteRequests(ctx context.Context, statuses []model.RequestStatus, olderThan time.Time) (int, error)

	CreateUninstallRequest(ctx context.Context, req model.UninstallRequest) error
	GetUninstallRequest(ctx context.Context, id string) (model.UninstallRequest, error)
	ListUninstallRequests(ctx context.Context, clientID string, status model.RequestStatus) ([]model.UninstallRequest, error)
	UpdateUninstallRequest(ctx context.Context, req model.UninstallRequest) error
}

type AccessKeys interface {
	CreateAccessKey(ctx context.Context, key model.AccessKey) error
	// ConsumeAccessKey atomically marks a matching, unused, unexpired key as
	// used. Any other outcome is ErrInvalidOrExpiredKey.
	ConsumeAccessKey(ctx context.Context, clientID, keyHash, operation string, at time.Time) (model.AccessKey, error)
}

type Versions interface {
	// ListVersions returns records newest first; limit <= 0 returns all.
	ListVersions(ctx context.Context, limit int) ([]model.VersionRecord, error)
	// LatestVersion returns the highest versionNumber.
	LatestVersion(ctx context.Context) (model.VersionRecord, error)
	CurrentVersion(ctx context.Context) (model.VersionRecord, error)
	// ReplaceVersions drops the history and stores records as given.
	ReplaceVersions(ctx context.Context, records []model.VersionRecord) error
	// AppendVersion clears isCurrent everywhere, then stores record as current.
	AppendVersion(ctx context.Context, record model.VersionRecord) error
	// SetCurrentVersion moves the current marker onto one record.
	SetCurrentVersion(ctx context.Context, versionNumber int) error
}

type Store interface {
	Users
	Sessions
	Devices
	Notifications
	Requests
	AccessKeys
	Versions

	Ping(ctx context.Context) error
	Close()
}
