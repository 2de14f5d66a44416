// Package memory is the in-process fallback store used when no database is
// configured or reachable. Data lives for the life of the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
)

// Store is safe for concurrent use. Every read returns copies so callers
// never alias stored records.
type Store struct {
	mu sync.RWMutex

	users             map[string]model.User
	sessions          map[string]model.Session
	macClients        map[string]model.MacClient
	installations     map[string]model.Installation
	notifications     map[string]model.Notification
	websiteRequests   map[string]model.WebsiteRequest
	uninstallRequests map[string]model.UninstallRequest
	accessKeys        map[string]model.AccessKey
	versions          map[int]model.VersionRecord
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:             make(map[string]model.User),
		sessions:          make(map[string]model.Session),
		macClients:        make(map[string]model.MacClient),
		installations:     make(map[string]model.Installation),
		notifications:     make(map[string]model.Notification),
		websiteRequests:   make(map[string]model.WebsiteRequest),
		uninstallRequests: make(map[string]model.UninstallRequest),
		accessKeys:        make(map[string]model.AccessKey),
		versions:          make(map[int]model.VersionRecord),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

// Users

func (s *Store) CreateUser(_ context.Context, user model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, user.Username) {
			return fmt.Errorf("%w: username already exists", apperr.ErrConflict)
		}
		if user.Email != "" && strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("%w: email already exists", apperr.ErrConflict)
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	return user, nil
}

func (s *Store) GetUserByLogin(_ context.Context, login string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Username, login) || (user.Email != "" && strings.EqualFold(user.Email, login)) {
			return user, nil
		}
	}
	return model.User{}, fmt.Errorf("%w: user %s", apperr.ErrNotFound, login)
}

func (s *Store) ListUsers(context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, user.ID)
	}
	for id, existing := range s.users {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(existing.Username, user.Username) || (user.Email != "" && strings.EqualFold(existing.Email, user.Email)) {
			return fmt.Errorf("%w: username or email already exists", apperr.ErrConflict)
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	delete(s.users, id)
	for sid, session := range s.sessions {
		if session.UserID == id {
			delete(s.sessions, sid)
		}
	}
	return nil
}

// Sessions

func (s *Store) CreateSession(_ context.Context, session model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return model.Session{}, fmt.Errorf("%w: session", apperr.ErrNotFound)
	}
	return session, nil
}

func (s *Store) TouchSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session", apperr.ErrNotFound)
	}
	session.LastActivity = at
	s.sessions[id] = session
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteUserSessions(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Devices

func (s *Store) GetMacClient(_ context.Context, macAddress string) (model.MacClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.macClients[macAddress]
	if !ok {
		return model.MacClient{}, fmt.Errorf("%w: mac client %s", apperr.ErrNotFound, macAddress)
	}
	return copyMacClient(client), nil
}

func (s *Store) ListMacClients(context.Context) ([]model.MacClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clients := make([]model.MacClient, 0, len(s.macClients))
	for _, client := range s.macClients {
		clients = append(clients, copyMacClient(client))
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].MacAddress < clients[j].MacAddress })
	return clients, nil
}

func (s *Store) SaveMacClient(_ context.Context, client model.MacClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.macClients[client.MacAddress] = copyMacClient(client)
	return nil
}

func (s *Store) GetInstallation(_ context.Context, clientID string) (model.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	installation, ok := s.installations[clientID]
	if !ok {
		return model.Installation{}, fmt.Errorf("%w: client %s", apperr.ErrNotFound, clientID)
	}
	return installation, nil
}

func (s *Store) ListInstallations(_ context.Context, macAddress string) ([]model.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var history []model.Installation
	for _, installation := range s.installations {
		if installation.MacAddress == macAddress {
			history = append(history, installation)
		}
	}
	sort.Slice(history, func(i, j int) bool { return history[i].InstallationNumber < history[j].InstallationNumber })
	return history, nil
}

func (s *Store) ListActiveInstallations(context.Context) ([]model.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []model.Installation
	for _, installation := range s.installations {
		if installation.IsActive {
			active = append(active, installation)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
	return active, nil
}

func (s *Store) RebindInstallation(_ context.Context, client model.MacClient, installation model.Installation, previousCount int, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := 0
	if existing, ok := s.macClients[client.MacAddress]; ok {
		current = existing.InstallationCount
	}
	if current != previousCount {
		return 0, fmt.Errorf("%w: mac %s registered concurrently", apperr.ErrConflict, client.MacAddress)
	}
	if _, ok := s.installations[installation.ClientID]; ok {
		return 0, fmt.Errorf("%w: installation %s", apperr.ErrConflict, installation.ClientID)
	}

	retired := 0
	for id, existing := range s.installations {
		if existing.MacAddress != client.MacAddress || !existing.IsActive {
			continue
		}
		s.installations[id] = deactivated(existing, installation.CreatedAt, reason)
		retired++
	}
	s.installations[installation.ClientID] = installation
	s.macClients[client.MacAddress] = copyMacClient(client)
	return retired, nil
}

func (s *Store) DeactivateInstallation(_ context.Context, clientID string, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	installation, ok := s.installations[clientID]
	if !ok || !installation.IsActive {
		return fmt.Errorf("%w: active client %s", apperr.ErrNotFound, clientID)
	}
	s.installations[clientID] = deactivated(installation, at, reason)
	return nil
}

func (s *Store) UpdateInstallationCheckin(_ context.Context, clientID, version string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	installation, ok := s.installations[clientID]
	if !ok {
		return fmt.Errorf("%w: client %s", apperr.ErrNotFound, clientID)
	}
	installation.LastCheckin = at
	if version != "" {
		installation.Version = version
	}
	s.installations[clientID] = installation
	return nil
}

func deactivated(installation model.Installation, at time.Time, reason string) model.Installation {
	installation.IsActive = false
	installation.DeactivatedAt = &at
	installation.DeactivationReason = reason
	return installation
}

func copyMacClient(client model.MacClient) model.MacClient {
	if client.ActiveClientID != nil {
		id := *client.ActiveClientID
		client.ActiveClientID = &id
	}
	return client
}

// Notifications

func (s *Store) InsertNotifications(_ context.Context, notifications []model.Notification) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range notifications {
		s.notifications[n.ID] = copyNotification(n)
	}
	return len(notifications), nil
}

func (s *Store) GetNotification(_ context.Context, id string) (model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return model.Notification{}, fmt.Errorf("%w: notification %s", apperr.ErrNotFound, id)
	}
	return copyNotification(n), nil
}

func (s *Store) ListNotifications(_ context.Context, filter store.NotificationFilter) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Notification
	for _, n := range s.notifications {
		if len(filter.ClientIDs) > 0 && !containsString(filter.ClientIDs, n.ClientID) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, n.Status) {
			continue
		}
		out = append(out, copyNotification(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateNotificationStatus(_ context.Context, id string, status model.NotificationStatus, snoozeUntil *time.Time, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.openNotification(id)
	if err != nil {
		return err
	}
	n.Status = status
	n.SnoozeUntil = snoozeUntil
	n.UpdatedAt = at
	s.notifications[id] = n
	return nil
}

func (s *Store) SetAllowedWebsites(_ context.Context, id string, sites []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.openNotification(id)
	if err != nil {
		return err
	}
	n.AllowedWebsites = append([]string(nil), sites...)
	n.UpdatedAt = at
	s.notifications[id] = n
	return nil
}

func (s *Store) openNotification(id string) (model.Notification, error) {
	n, ok := s.notifications[id]
	if !ok {
		return model.Notification{}, fmt.Errorf("%w: notification %s", apperr.ErrNotFound, id)
	}
	if !n.Open() {
		return model.Notification{}, fmt.Errorf("%w: notification %s is completed", apperr.ErrInvalidTransition, id)
	}
	return n, nil
}

func (s *Store) DeleteNotifications(_ context.Context, statuses []model.NotificationStatus, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, n := range s.notifications {
		if containsStatus(statuses, n.Status) && n.CreatedAt.Before(olderThan) {
			delete(s.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

func copyNotification(n model.Notification) model.Notification {
	n.AllowedWebsites = append([]string(nil), n.AllowedWebsites...)
	if n.SnoozeUntil != nil {
		until := *n.SnoozeUntil
		n.SnoozeUntil = &until
	}
	return n
}

// Requests

func (s *Store) CreateWebsiteRequest(_ context.Context, req model.WebsiteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.websiteRequests[req.ID] = req
	return nil
}

func (s *Store) GetWebsiteRequest(_ context.Context, id string) (model.WebsiteRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.websiteRequests[id]
	if !ok {
		return model.WebsiteRequest{}, fmt.Errorf("%w: website request %s", apperr.ErrNotFound, id)
	}
	return req, nil
}

func (s *Store) ListWebsiteRequests(_ context.Context, status model.RequestStatus) ([]model.WebsiteRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WebsiteRequest
	for _, req := range s.websiteRequests {
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateWebsiteRequest(_ context.Context, req model.WebsiteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.websiteRequests[req.ID]; !ok {
		return fmt.Errorf("%w: website request %s", apperr.ErrNotFound, req.ID)
	}
	s.websiteRequests[req.ID] = req
	return nil
}

func (s *Store) DeleteWebsiteRequests(_ context.Context, statuses []model.RequestStatus, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, req := range s.websiteRequests {
		if containsRequestStatus(statuses, req.Status) && req.CreatedAt.Before(olderThan) {
			delete(s.websiteRequests, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) CreateUninstallRequest(_ context.Context, req model.UninstallRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uninstallRequests[req.ID] = req
	return nil
}

func (s *Store) GetUninstallRequest(_ context.Context, id string) (model.UninstallRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.uninstallRequests[id]
	if !ok {
		return model.UninstallRequest{}, fmt.Errorf("%w: uninstall request %s", apperr.ErrNotFound, id)
	}
	return req, nil
}

func (s *Store) ListUninstallRequests(_ context.Context, clientID string, status model.RequestStatus) ([]model.UninstallRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.UninstallRequest
	for _, req := range s.uninstallRequests {
		if clientID != "" && req.ClientID != clientID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateUninstallRequest(_ context.Context, req model.UninstallRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uninstallRequests[req.ID]; !ok {
		return fmt.Errorf("%w: uninstall request %s", apperr.ErrNotFound, req.ID)
	}
	s.uninstallRequests[req.ID] = req
	return nil
}

// Access keys

func (s *Store) CreateAccessKey(_ context.Context, key model.AccessKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessKeys[key.KeyHash] = key
	return nil
}

func (s *Store) ConsumeAccessKey(_ context.Context, clientID, keyHash, operation string, at time.Time) (model.AccessKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.accessKeys[keyHash]
	if !ok || key.Used || key.ClientID != clientID || key.Operation != operation || !at.Before(key.ExpiresAt) {
		return model.AccessKey{}, apperr.ErrInvalidOrExpiredKey
	}
	key.Used = true
	key.UsedAt = &at
	s.accessKeys[keyHash] = key
	return key, nil
}

// Versions

func (s *Store) ListVersions(_ context.Context, limit int) ([]model.VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.VersionRecord, 0, len(s.versions))
	for _, record := range s.versions {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LatestVersion(_ context.Context) (model.VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest model.VersionRecord
	found := false
	for _, record := range s.versions {
		if !found || record.VersionNumber > latest.VersionNumber {
			latest = record
			found = true
		}
	}
	if !found {
		return model.VersionRecord{}, fmt.Errorf("%w: no versions", apperr.ErrNotFound)
	}
	return latest, nil
}

func (s *Store) CurrentVersion(_ context.Context) (model.VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var current model.VersionRecord
	found := false
	for _, record := range s.versions {
		if record.IsCurrent && (!found || record.VersionNumber > current.VersionNumber) {
			current = record
			found = true
		}
	}
	if !found {
		return model.VersionRecord{}, fmt.Errorf("%w: no current version", apperr.ErrNotFound)
	}
	return current, nil
}

func (s *Store) ReplaceVersions(_ context.Context, records []model.VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = make(map[int]model.VersionRecord, len(records))
	for _, record := range records {
		s.versions[record.VersionNumber] = record
	}
	return nil
}

func (s *Store) AppendVersion(_ context.Context, record model.VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[record.VersionNumber]; ok {
		return fmt.Errorf("%w: version %d", apperr.ErrConflict, record.VersionNumber)
	}
	for number, existing := range s.versions {
		existing.IsCurrent = false
		s.versions[number] = existing
	}
	record.IsCurrent = true
	s.versions[record.VersionNumber] = record
	return nil
}

func (s *Store) SetCurrentVersion(_ context.Context, versionNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[versionNumber]; !ok {
		return fmt.Errorf("%w: version %d", apperr.ErrNotFound, versionNumber)
	}
	for number, existing := range s.versions {
		existing.IsCurrent = number == versionNumber
		s.versions[number] = existing
	}
	return nil
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func containsStatus(values []model.NotificationStatus, target model.NotificationStatus) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func containsRequestStatus(values []model.RequestStatus, target model.RequestStatus) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
