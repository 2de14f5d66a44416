// Package postgres is the persistent store adapter backed by pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type Store struct {
	db DB
}

var _ store.Store = (*Store)(nil)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.db.Ping(ctx), "ping")
}

func (s *Store) Close() {
	s.db.Close()
}

// mapErr translates driver errors into the apperr taxonomy.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", apperr.ErrConflict, what)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", apperr.ErrStoreUnavailable, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Users

const userColumns = `id, username, email, password_hash, role, created_by, active, created_at, last_login`

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	var role string
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.CreatedBy,
		&user.Active,
		&user.CreatedAt,
		&user.LastLogin,
	)
	user.Role = model.Role(role)
	return user, err
}

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, user.ID, user.Username, user.Email, user.PasswordHash, string(user.Role), user.CreatedBy, user.Active, user.CreatedAt, user.LastLogin)
	return mapErr(err, "create user")
}

func (s *Store) GetUserByID(ctx context.Context, id string) (model.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return user, mapErr(err, "user "+id)
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (model.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(username) = lower($1) OR (email <> '' AND lower(email) = lower($1))
		LIMIT 1
	`, login))
	return user, mapErr(err, "user "+login)
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, mapErr(err, "list users")
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, mapErr(err, "scan user")
		}
		users = append(users, user)
	}
	return users, mapErr(rows.Err(), "list users")
}

func (s *Store) UpdateUser(ctx context.Context, user model.User) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET username = $2, email = $3, password_hash = $4, role = $5, active = $6, last_login = $7
		WHERE id = $1
	`, user.ID, user.Username, user.Email, user.PasswordHash, string(user.Role), user.Active, user.LastLogin)
	if err != nil {
		return mapErr(err, "update user")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, user.ID)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "delete user")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	return nil
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, session model.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, role, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5)
	`, session.ID, session.UserID, string(session.Role), session.CreatedAt, session.LastActivity)
	return mapErr(err, "create session")
}

func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	var session model.Session
	var role string
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, role, created_at, last_activity
		FROM sessions
		WHERE id = $1
	`, id).Scan(&session.ID, &session.UserID, &role, &session.CreatedAt, &session.LastActivity)
	session.Role = model.Role(role)
	return session, mapErr(err, "session")
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE id = $1`, id, at)
	if err != nil {
		return mapErr(err, "touch session")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session", apperr.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return mapErr(err, "delete session")
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, mapErr(err, "delete user sessions")
	}
	return int(tag.RowsAffected()), nil
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return mapErr(err, "begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return mapErr(tx.Commit(ctx), "commit")
}

// Devices

const macClientColumns = `mac_address, username, client_name, active_client_id, installation_count, created_at, last_checkin`

func scanMacClient(row pgx.Row) (model.MacClient, error) {
	var client model.MacClient
	err := row.Scan(
		&client.MacAddress,
		&client.Username,
		&client.ClientName,
		&client.ActiveClientID,
		&client.InstallationCount,
		&client.CreatedAt,
		&client.LastCheckin,
	)
	return client, err
}

func (s *Store) GetMacClient(ctx context.Context, macAddress string) (model.MacClient, error) {
	client, err := scanMacClient(s.db.QueryRow(ctx, `SELECT `+macClientColumns+` FROM mac_clients WHERE mac_address = $1`, macAddress))
	return client, mapErr(err, "mac client "+macAddress)
}

func (s *Store) ListMacClients(ctx context.Context) ([]model.MacClient, error) {
	rows, err := s.db.Query(ctx, `SELECT `+macClientColumns+` FROM mac_clients ORDER BY mac_address`)
	if err != nil {
		return nil, mapErr(err, "list mac clients")
	}
	defer rows.Close()

	var clients []model.MacClient
	for rows.Next() {
		client, err := scanMacClient(rows)
		if err != nil {
			return nil, mapErr(err, "scan mac client")
		}
		clients = append(clients, client)
	}
	return clients, mapErr(rows.Err(), "list mac clients")
}

func (s *Store) SaveMacClient(ctx context.Context, client model.MacClient) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO mac_clients (`+macClientColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (mac_address) DO UPDATE
		SET username = EXCLUDED.username,
			client_name = EXCLUDED.client_name,
			active_client_id = EXCLUDED.active_client_id,
			installation_count = EXCLUDED.installation_count,
			last_checkin = EXCLUDED.last_checkin
	`, client.MacAddress, client.Username, client.ClientName, client.ActiveClientID, client.InstallationCount, client.CreatedAt, client.LastCheckin)
	return mapErr(err, "save mac client")
}

const installationColumns = `client_id, mac_address, username, client_name, hostname, install_path, platform, version,
	installation_number, is_active, created_at, last_checkin, deactivated_at, deactivation_reason`

func scanInstallation(row pgx.Row) (model.Installation, error) {
	var installation model.Installation
	err := row.Scan(
		&installation.ClientID,
		&installation.MacAddress,
		&installation.Username,
		&installation.ClientName,
		&installation.Hostname,
		&installation.InstallPath,
		&installation.Platform,
		&installation.Version,
		&installation.InstallationNumber,
		&installation.IsActive,
		&installation.CreatedAt,
		&installation.LastCheckin,
		&installation.DeactivatedAt,
		&installation.DeactivationReason,
	)
	return installation, err
}

func (s *Store) queryInstallations(ctx context.Context, sql string, args ...any) ([]model.Installation, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err, "list installations")
	}
	defer rows.Close()

	var out []model.Installation
	for rows.Next() {
		installation, err := scanInstallation(rows)
		if err != nil {
			return nil, mapErr(err, "scan installation")
		}
		out = append(out, installation)
	}
	return out, mapErr(rows.Err(), "list installations")
}

func (s *Store) GetInstallation(ctx context.Context, clientID string) (model.Installation, error) {
	installation, err := scanInstallation(s.db.QueryRow(ctx, `SELECT `+installationColumns+` FROM installations WHERE client_id = $1`, clientID))
	return installation, mapErr(err, "client "+clientID)
}

func (s *Store) ListInstallations(ctx context.Context, macAddress string) ([]model.Installation, error) {
	return s.queryInstallations(ctx, `
		SELECT `+installationColumns+`
		FROM installations
		WHERE mac_address = $1
		ORDER BY installation_number
	`, macAddress)
}

func (s *Store) ListActiveInstallations(ctx context.Context) ([]model.Installation, error) {
	return s.queryInstallations(ctx, `
		SELECT `+installationColumns+`
		FROM installations
		WHERE is_active
		ORDER BY created_at
	`)
}

// RebindInstallation claims the MAC client row first. A concurrent rebind on
// the same MAC blocks on that row and then fails the installation_count check.
func (s *Store) RebindInstallation(ctx context.Context, client model.MacClient, installation model.Installation, previousCount int, reason string) (int, error) {
	retired := 0
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var tag pgconn.CommandTag
		var err error
		if previousCount == 0 {
			tag, err = tx.Exec(ctx, `
				INSERT INTO mac_clients (`+macClientColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (mac_address) DO NOTHING
			`, client.MacAddress, client.Username, client.ClientName, client.ActiveClientID, client.InstallationCount, client.CreatedAt, client.LastCheckin)
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE mac_clients
				SET username = $2, client_name = $3, active_client_id = $4, installation_count = $5, last_checkin = $6
				WHERE mac_address = $1 AND installation_count = $7
			`, client.MacAddress, client.Username, client.ClientName, client.ActiveClientID, client.InstallationCount, client.LastCheckin, previousCount)
		}
		if err != nil {
			return mapErr(err, "save mac client")
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: mac %s registered concurrently", apperr.ErrConflict, client.MacAddress)
		}

		tag, err = tx.Exec(ctx, `
			UPDATE installations
			SET is_active = false, deactivated_at = $2, deactivation_reason = $3
			WHERE mac_address = $1 AND is_active
		`, client.MacAddress, installation.CreatedAt, reason)
		if err != nil {
			return mapErr(err, "deactivate installations")
		}
		retired = int(tag.RowsAffected())

		_, err = tx.Exec(ctx, `
			INSERT INTO installations (`+installationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			installation.ClientID,
			installation.MacAddress,
			installation.Username,
			installation.ClientName,
			installation.Hostname,
			installation.InstallPath,
			installation.Platform,
			installation.Version,
			installation.InstallationNumber,
			installation.IsActive,
			installation.CreatedAt,
			installation.LastCheckin,
			installation.DeactivatedAt,
			installation.DeactivationReason,
		)
		return mapErr(err, "create installation "+installation.ClientID)
	})
	if err != nil {
		return 0, err
	}
	return retired, nil
}

func (s *Store) DeactivateInstallation(ctx context.Context, clientID string, at time.Time, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE installations
		SET is_active = false, deactivated_at = $2, deactivation_reason = $3
		WHERE client_id = $1 AND is_active
	`, clientID, at, reason)
	if err != nil {
		return mapErr(err, "deactivate installation")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: active client %s", apperr.ErrNotFound, clientID)
	}
	return nil
}

func (s *Store) UpdateInstallationCheckin(ctx context.Context, clientID, version string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE installations
		SET last_checkin = $2, version = COALESCE(NULLIF($3, ''), version)
		WHERE client_id = $1
	`, clientID, at, version)
	if err != nil {
		return mapErr(err, "checkin")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: client %s", apperr.ErrNotFound, clientID)
	}
	return nil
}

// Notifications

const notificationColumns = `id, client_id, message, status, created_at, updated_at, snooze_until,
	allow_browser_usage, allowed_websites, priority`

func scanNotification(row pgx.Row) (model.Notification, error) {
	var n model.Notification
	var status string
	err := row.Scan(
		&n.ID,
		&n.ClientID,
		&n.Message,
		&status,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.SnoozeUntil,
		&n.AllowBrowserUsage,
		&n.AllowedWebsites,
		&n.Priority,
	)
	n.Status = model.NotificationStatus(status)
	return n, err
}

func (s *Store) InsertNotifications(ctx context.Context, notifications []model.Notification) (int, error) {
	if len(notifications) == 0 {
		return 0, nil
	}
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		for _, n := range notifications {
			sites := n.AllowedWebsites
			if sites == nil {
				sites = []string{}
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO notifications (`+notificationColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`, n.ID, n.ClientID, n.Message, string(n.Status), n.CreatedAt, n.UpdatedAt, n.SnoozeUntil, n.AllowBrowserUsage, sites, n.Priority)
			if err != nil {
				return mapErr(err, "insert notification")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(notifications), nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (model.Notification, error) {
	n, err := scanNotification(s.db.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	return n, mapErr(err, "notification "+id)
}

func (s *Store) ListNotifications(ctx context.Context, filter store.NotificationFilter) ([]model.Notification, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	clientIDs := append([]string{}, filter.ClientIDs...)

	rows, err := s.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE (cardinality($1::text[]) = 0 OR client_id = ANY($1))
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at
	`, clientIDs, statuses)
	if err != nil {
		return nil, mapErr(err, "list notifications")
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, mapErr(err, "scan notification")
		}
		out = append(out, n)
	}
	return out, mapErr(rows.Err(), "list notifications")
}

func (s *Store) UpdateNotificationStatus(ctx context.Context, id string, status model.NotificationStatus, snoozeUntil *time.Time, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET status = $2, snooze_until = $3, updated_at = $4
		WHERE id = $1 AND status <> 'completed'
	`, id, string(status), snoozeUntil, at)
	if err != nil {
		return mapErr(err, "update notification")
	}
	if tag.RowsAffected() == 0 {
		return s.closedNotification(ctx, id)
	}
	return nil
}

func (s *Store) SetAllowedWebsites(ctx context.Context, id string, sites []string, at time.Time) error {
	if sites == nil {
		sites = []string{}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET allowed_websites = $2, updated_at = $3
		WHERE id = $1 AND status <> 'completed'
	`, id, sites, at)
	if err != nil {
		return mapErr(err, "update allowed websites")
	}
	if tag.RowsAffected() == 0 {
		return s.closedNotification(ctx, id)
	}
	return nil
}

// closedNotification explains why a conditional update touched nothing.
func (s *Store) closedNotification(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapErr(err, "notification "+id)
	}
	if !exists {
		return fmt.Errorf("%w: notification %s", apperr.ErrNotFound, id)
	}
	return fmt.Errorf("%w: notification %s is completed", apperr.ErrInvalidTransition, id)
}

func (s *Store) DeleteNotifications(ctx context.Context, statuses []model.NotificationStatus, olderThan time.Time) (int, error) {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE status = ANY($1) AND created_at < $2`, values, olderThan)
	if err != nil {
		return 0, mapErr(err, "delete notifications")
	}
	return int(tag.RowsAffected()), nil
}

// Requests

const websiteRequestColumns = `id, client_id, url, reason, status, created_at, reviewed_by, reviewed_at`

func scanWebsiteRequest(row pgx.Row) (model.WebsiteRequest, error) {
	var req model.WebsiteRequest
	var status string
	err := row.Scan(&req.ID, &req.ClientID, &req.URL, &req.Reason, &status, &req.CreatedAt, &req.ReviewedBy, &req.ReviewedAt)
	req.Status = model.RequestStatus(status)
	return req, err
}

func (s *Store) CreateWebsiteRequest(ctx context.Context, req model.WebsiteRequest) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO website_requests (`+websiteRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, req.ID, req.ClientID, req.URL, req.Reason, string(req.Status), req.CreatedAt, req.ReviewedBy, req.ReviewedAt)
	return mapErr(err, "create website request")
}

func (s *Store) GetWebsiteRequest(ctx context.Context, id string) (model.WebsiteRequest, error) {
	req, err := scanWebsiteRequest(s.db.QueryRow(ctx, `SELECT `+websiteRequestColumns+` FROM website_requests WHERE id = $1`, id))
	return req, mapErr(err, "website request "+id)
}

func (s *Store) ListWebsiteRequests(ctx context.Context, status model.RequestStatus) ([]model.WebsiteRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+websiteRequestColumns+`
		FROM website_requests
		WHERE ($1::text = '' OR status = $1)
		ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, mapErr(err, "list website requests")
	}
	defer rows.Close()

	var out []model.WebsiteRequest
	for rows.Next() {
		req, err := scanWebsiteRequest(rows)
		if err != nil {
			return nil, mapErr(err, "scan website request")
		}
		out = append(out, req)
	}
	return out, mapErr(rows.Err(), "list website requests")
}

func (s *Store) UpdateWebsiteRequest(ctx context.Context, req model.WebsiteRequest) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE website_requests
		SET status = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $1
	`, req.ID, string(req.Status), req.ReviewedBy, req.ReviewedAt)
	if err != nil {
		return mapErr(err, "update website request")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: website request %s", apperr.ErrNotFound, req.ID)
	}
	return nil
}

func (s *Store) DeleteWebsiteRequests(ctx context.Context, statuses []model.RequestStatus, olderThan time.Time) (int, error) {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM website_requests WHERE status = ANY($1) AND created_at < $2`, values, olderThan)
	if err != nil {
		return 0, mapErr(err, "delete website requests")
	}
	return int(tag.RowsAffected()), nil
}

const uninstallRequestColumns = `id, client_id, client_name, computer_name, reason, explanation, status, created_at, reviewed_by, denial_reason, completed_at`

func scanUninstallRequest(row pgx.Row) (model.UninstallRequest, error) {
	var req model.UninstallRequest
	var status string
	err := row.Scan(
		&req.ID,
		&req.ClientID,
		&req.ClientName,
		&req.ComputerName,
		&req.Reason,
		&req.Explanation,
		&status,
		&req.CreatedAt,
		&req.ReviewedBy,
		&req.DenialReason,
		&req.CompletedAt,
	)
	req.Status = model.RequestStatus(status)
	return req, err
}

func (s *Store) CreateUninstallRequest(ctx context.Context, req model.UninstallRequest) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO uninstall_requests (`+uninstallRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, req.ID, req.ClientID, req.ClientName, req.ComputerName, req.Reason, req.Explanation, string(req.Status), req.CreatedAt, req.ReviewedBy, req.DenialReason, req.CompletedAt)
	return mapErr(err, "create uninstall request")
}

func (s *Store) GetUninstallRequest(ctx context.Context, id string) (model.UninstallRequest, error) {
	req, err := scanUninstallRequest(s.db.QueryRow(ctx, `SELECT `+uninstallRequestColumns+` FROM uninstall_requests WHERE id = $1`, id))
	return req, mapErr(err, "uninstall request "+id)
}

func (s *Store) ListUninstallRequests(ctx context.Context, clientID string, status model.RequestStatus) ([]model.UninstallRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+uninstallRequestColumns+`
		FROM uninstall_requests
		WHERE ($1::text = '' OR client_id = $1)
		  AND ($2::text = '' OR status = $2)
		ORDER BY created_at
	`, clientID, string(status))
	if err != nil {
		return nil, mapErr(err, "list uninstall requests")
	}
	defer rows.Close()

	var out []model.UninstallRequest
	for rows.Next() {
		req, err := scanUninstallRequest(rows)
		if err != nil {
			return nil, mapErr(err, "scan uninstall request")
		}
		out = append(out, req)
	}
	return out, mapErr(rows.Err(), "list uninstall requests")
}

func (s *Store) UpdateUninstallRequest(ctx context.Context, req model.UninstallRequest) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE uninstall_requests
		SET status = $2, reviewed_by = $3, denial_reason = $4, completed_at = $5
		WHERE id = $1
	`, req.ID, string(req.Status), req.ReviewedBy, req.DenialReason, req.CompletedAt)
	if err != nil {
		return mapErr(err, "update uninstall request")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: uninstall request %s", apperr.ErrNotFound, req.ID)
	}
	return nil
}

// Access keys

func (s *Store) CreateAccessKey(ctx context.Context, key model.AccessKey) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO access_keys (id, client_id, key_hash, operation, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, false)
	`, key.ID, key.ClientID, key.KeyHash, key.Operation, key.CreatedAt, key.ExpiresAt)
	return mapErr(err, "create access key")
}

// ConsumeAccessKey is a single conditional UPDATE so two concurrent
// redemptions of the same key cannot both succeed.
func (s *Store) ConsumeAccessKey(ctx context.Context, clientID, keyHash, operation string, at time.Time) (model.AccessKey, error) {
	var key model.AccessKey
	err := s.db.QueryRow(ctx, `
		UPDATE access_keys
		SET used = true, used_at = $5
		WHERE key_hash = $1 AND client_id = $2 AND operation = $3 AND NOT used AND expires_at > $4
		RETURNING id, client_id, key_hash, operation, created_at, expires_at, used, used_at
	`, keyHash, clientID, operation, at, at).Scan(
		&key.ID,
		&key.ClientID,
		&key.KeyHash,
		&key.Operation,
		&key.CreatedAt,
		&key.ExpiresAt,
		&key.Used,
		&key.UsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AccessKey{}, apperr.ErrInvalidOrExpiredKey
	}
	if err != nil {
		return model.AccessKey{}, mapErr(err, "consume access key")
	}
	return key, nil
}

// Versions

const versionColumns = `version_number, version, message, date, source, commit_sha, deployment_id, is_current, created_at`

func scanVersion(row pgx.Row) (model.VersionRecord, error) {
	var record model.VersionRecord
	err := row.Scan(
		&record.VersionNumber,
		&record.Version,
		&record.Message,
		&record.Date,
		&record.Source,
		&record.CommitSHA,
		&record.DeploymentID,
		&record.IsCurrent,
		&record.CreatedAt,
	)
	return record, err
}

func (s *Store) ListVersions(ctx context.Context, limit int) ([]model.VersionRecord, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+versionColumns+`
		FROM version_records
		ORDER BY version_number DESC
		LIMIT $1
	`, limitArg)
	if err != nil {
		return nil, mapErr(err, "list versions")
	}
	defer rows.Close()

	var out []model.VersionRecord
	for rows.Next() {
		record, err := scanVersion(rows)
		if err != nil {
			return nil, mapErr(err, "scan version")
		}
		out = append(out, record)
	}
	return out, mapErr(rows.Err(), "list versions")
}

func (s *Store) LatestVersion(ctx context.Context) (model.VersionRecord, error) {
	record, err := scanVersion(s.db.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM version_records
		ORDER BY version_number DESC
		LIMIT 1
	`))
	return record, mapErr(err, "latest version")
}

func (s *Store) CurrentVersion(ctx context.Context) (model.VersionRecord, error) {
	record, err := scanVersion(s.db.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM version_records
		WHERE is_current
		ORDER BY version_number DESC
		LIMIT 1
	`))
	return record, mapErr(err, "current version")
}

func insertVersion(ctx context.Context, tx pgx.Tx, record model.VersionRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO version_records (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		record.VersionNumber,
		record.Version,
		record.Message,
		record.Date,
		record.Source,
		record.CommitSHA,
		record.DeploymentID,
		record.IsCurrent,
		record.CreatedAt,
	)
	return mapErr(err, fmt.Sprintf("insert version %d", record.VersionNumber))
}

func (s *Store) ReplaceVersions(ctx context.Context, records []model.VersionRecord) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM version_records`); err != nil {
			return mapErr(err, "clear versions")
		}
		for _, record := range records {
			if err := insertVersion(ctx, tx, record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AppendVersion(ctx context.Context, record model.VersionRecord) error {
	record.IsCurrent = true
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE version_records SET is_current = false WHERE is_current`); err != nil {
			return mapErr(err, "clear current version")
		}
		return insertVersion(ctx, tx, record)
	})
}

func (s *Store) SetCurrentVersion(ctx context.Context, versionNumber int) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE version_records SET is_current = false WHERE is_current`); err != nil {
			return mapErr(err, "clear current version")
		}
		tag, err := tx.Exec(ctx, `UPDATE version_records SET is_current = true WHERE version_number = $1`, versionNumber)
		if err != nil {
			return mapErr(err, "set current version")
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: version %d", apperr.ErrNotFound, versionNumber)
		}
		return nil
	})
}
