package model

import "time"

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	CreatedBy    *string    `json:"createdBy,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

type Session struct {
	ID           string
	UserID       string
	Role         Role
	CreatedAt    time.Time
	LastActivity time.Time
}

// MacClient is the durable hardware identity: one per physical MAC address.
type MacClient struct {
	MacAddress        string    `json:"macAddress"`
	Username          string    `json:"username"`
	ClientName        string    `json:"clientName"`
	ActiveClientID    *string   `json:"activeClientId,omitempty"`
	InstallationCount int       `json:"installationCount"`
	CreatedAt         time.Time `json:"createdAt"`
	LastCheckin       time.Time `json:"lastCheckin"`
}

// Installation is one install event on a MAC address.
type Installation struct {
	ClientID           string     `json:"clientId"`
	MacAddress         string     `json:"macAddress"`
	Username           string     `json:"username"`
	ClientName         string     `json:"clientName"`
	Hostname           string     `json:"hostname"`
	InstallPath        string     `json:"installPath"`
	Platform           string     `json:"platform"`
	Version            string     `json:"version"`
	InstallationNumber int        `json:"installationNumber"`
	IsActive           bool       `json:"isActive"`
	CreatedAt          time.Time  `json:"createdAt"`
	LastCheckin        time.Time  `json:"lastCheckin"`
	DeactivatedAt      *time.Time `json:"deactivatedAt,omitempty"`
	DeactivationReason string     `json:"deactivationReason,omitempty"`
}

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationActive    NotificationStatus = "active"
	NotificationSnoozed   NotificationStatus = "snoozed"
	NotificationCompleted NotificationStatus = "completed"
	NotificationSystem    NotificationStatus = "system"
)

// AllClients is the clientId of a notification addressed to every device.
const AllClients = "all"

// UninstallDirective is the message of the System notification that tells a
// device to remove itself once it holds a valid access key.
const UninstallDirective = "uninstall"

func ParseNotificationStatus(value string) (NotificationStatus, bool) {
	switch NotificationStatus(value) {
	case NotificationPending, NotificationActive, NotificationSnoozed, NotificationCompleted, NotificationSystem:
		return NotificationStatus(value), true
	default:
		return "", false
	}
}

type Notification struct {
	ID                string             `json:"id"`
	ClientID          string             `json:"clientId"`
	Message           string             `json:"message"`
	Status            NotificationStatus `json:"status"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	SnoozeUntil       *time.Time         `json:"snoozeUntil,omitempty"`
	AllowBrowserUsage bool               `json:"allowBrowserUsage"`
	AllowedWebsites   []string           `json:"allowedWebsites"`
	Priority          int                `json:"priority"`
}

// Open reports whether the notification still accepts mutation.
func (n Notification) Open() bool {
	return n.Status != NotificationCompleted
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

type WebsiteRequest struct {
	ID         string        `json:"id"`
	ClientID   string        `json:"clientId"`
	URL        string        `json:"url"`
	Reason     string        `json:"reason"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	ReviewedBy *string       `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time    `json:"reviewedAt,omitempty"`
}

type UninstallRequest struct {
	ID           string        `json:"id"`
	ClientID     string        `json:"clientId"`
	ClientName   string        `json:"clientName"`
	ComputerName string        `json:"computerName"`
	Reason       string        `json:"reason"`
	Explanation  string        `json:"explanation"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	ReviewedBy   *string       `json:"reviewedBy,omitempty"`
	DenialReason *string       `json:"denialReason,omitempty"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
}

// AccessKey is a single-use authorization for one destructive local
// operation. Only the hash of the token is persisted.
type AccessKey struct {
	ID        string
	ClientID  string
	KeyHash   string
	Operation string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

type VersionRecord struct {
	VersionNumber int       `json:"versionNumber"`
	Version       string    `json:"version"`
	Message       string    `json:"message"`
	Date          time.Time `json:"date"`
	Source        string    `json:"source"`
	CommitSHA     string    `json:"commitSha,omitempty"`
	DeploymentID  string    `json:"deploymentId,omitempty"`
	IsCurrent     bool      `json:"isCurrent"`
	CreatedAt     time.Time `json:"createdAt"`
}
