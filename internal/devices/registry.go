// Package devices maps physical machines, keyed by MAC address, to logical
// installations and keeps their install history.
package devices

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/clock"
	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
)

const (
	ReasonReplaced    = "new installation on same MAC"
	ReasonUninstalled = "uninstalled"

	registerAttempts = 3
)

type Registration struct {
	MacAddress  string
	Username    string
	Hostname    string
	InstallPath string
	Platform    string
	Version     string
}

type AuthResult struct {
	ClientID           string `json:"clientId"`
	ClientName         string `json:"clientName"`
	MacAddress         string `json:"macAddress"`
	InstallationNumber int    `json:"installationNumber"`
	IsNewInstallation  bool   `json:"isNewInstallation"`
}

// ClientView is a MAC client together with its active installation, if any.
type ClientView struct {
	model.MacClient
	Active *model.Installation `json:"activeInstallation,omitempty"`
}

type Registry struct {
	devices store.Devices
	clock   clock.Clock
	log     zerolog.Logger
}

func NewRegistry(devices store.Devices, clk clock.Clock, log zerolog.Logger) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Registry{devices: devices, clock: clk, log: log}
}

// ClientID renders {username}_{last 6 hex of MAC}_{n}.
func ClientID(username, macAddress string, installationNumber int) string {
	hex := strings.ReplaceAll(macAddress, ":", "")
	if len(hex) > 6 {
		hex = hex[len(hex)-6:]
	}
	return fmt.Sprintf("%s_%s_%d", username, hex, installationNumber)
}

func ClientName(username string, installationNumber int) string {
	return fmt.Sprintf("%s%d", username, installationNumber)
}

// NormalizeMAC accepts colon, dash, dotted and bare hex forms and returns the
// lowercase colon form of a 6-octet address.
func NormalizeMAC(value string) (string, error) {
	value = strings.TrimSpace(value)
	if len(value) == 12 && !strings.ContainsAny(value, ":-.") {
		parts := make([]string, 0, 6)
		for i := 0; i < 12; i += 2 {
			parts = append(parts, value[i:i+2])
		}
		value = strings.Join(parts, ":")
	}
	hw, err := net.ParseMAC(value)
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("%w: invalid MAC address %q", apperr.ErrValidation, value)
	}
	return hw.String(), nil
}

// Authenticate registers a new installation for the machine. Any installation
// still active on the MAC is retired first, so at most one stays active.
func (r *Registry) Authenticate(ctx context.Context, reg Registration) (AuthResult, error) {
	mac, err := NormalizeMAC(reg.MacAddress)
	if err != nil {
		return AuthResult{}, err
	}
	username := strings.TrimSpace(reg.Username)
	if username == "" {
		return AuthResult{}, fmt.Errorf("%w: username is required", apperr.ErrValidation)
	}

	var result AuthResult
	for attempt := 1; attempt <= registerAttempts; attempt++ {
		result, err = r.register(ctx, mac, username, reg)
		if !errors.Is(err, apperr.ErrConflict) {
			break
		}
		r.log.Warn().Str("mac", mac).Int("attempt", attempt).Msg("concurrent registration on MAC, retrying")
	}
	if err != nil {
		return AuthResult{}, err
	}

	r.log.Info().
		Str("client_id", result.ClientID).
		Str("mac", mac).
		Bool("new_mac", result.IsNewInstallation).
		Msg("installation registered")
	return result, nil
}

func (r *Registry) register(ctx context.Context, mac, username string, reg Registration) (AuthResult, error) {
	now := r.clock.Now()
	existing, err := r.devices.GetMacClient(ctx, mac)
	isNew := errors.Is(err, apperr.ErrNotFound)
	if err != nil && !isNew {
		return AuthResult{}, err
	}

	number := 1
	if !isNew {
		number = existing.InstallationCount + 1
	}
	clientID := ClientID(username, mac, number)
	clientName := ClientName(username, number)

	installation := model.Installation{
		ClientID:           clientID,
		MacAddress:         mac,
		Username:           username,
		ClientName:         clientName,
		Hostname:           reg.Hostname,
		InstallPath:        reg.InstallPath,
		Platform:           reg.Platform,
		Version:            reg.Version,
		InstallationNumber: number,
		IsActive:           true,
		CreatedAt:          now,
		LastCheckin:        now,
	}
	client := model.MacClient{
		MacAddress:        mac,
		Username:          username,
		ClientName:        clientName,
		ActiveClientID:    &clientID,
		InstallationCount: number,
		CreatedAt:         now,
		LastCheckin:       now,
	}

	previous := 0
	if !isNew {
		client.CreatedAt = existing.CreatedAt
		previous = existing.InstallationCount
	}
	retired, err := r.devices.RebindInstallation(ctx, client, installation, previous, ReasonReplaced)
	if err != nil {
		return AuthResult{}, err
	}
	if retired > 0 {
		r.log.Info().Str("mac", mac).Int("retired", retired).Msg("previous installation deactivated")
	}

	return AuthResult{
		ClientID:           clientID,
		ClientName:         clientName,
		MacAddress:         mac,
		InstallationNumber: number,
		IsNewInstallation:  isNew,
	}, nil
}

// Checkin records liveness of an active installation and cascades the
// timestamp to its MAC client.
func (r *Registry) Checkin(ctx context.Context, clientID, version string) (model.Installation, error) {
	installation, err := r.devices.GetInstallation(ctx, clientID)
	if err != nil {
		return model.Installation{}, err
	}
	if !installation.IsActive {
		return model.Installation{}, fmt.Errorf("%w: client %s is not active", apperr.ErrNotFound, clientID)
	}
	now := r.clock.Now()
	if err := r.devices.UpdateInstallationCheckin(ctx, clientID, version, now); err != nil {
		return model.Installation{}, err
	}

	client, err := r.devices.GetMacClient(ctx, installation.MacAddress)
	if err != nil {
		return model.Installation{}, err
	}
	client.LastCheckin = now
	if err := r.devices.SaveMacClient(ctx, client); err != nil {
		return model.Installation{}, err
	}

	installation.LastCheckin = now
	if version != "" {
		installation.Version = version
	}
	return installation, nil
}

// CheckinByMac resolves the active installation of a MAC and checks it in.
func (r *Registry) CheckinByMac(ctx context.Context, macAddress, version string) (model.Installation, error) {
	mac, err := NormalizeMAC(macAddress)
	if err != nil {
		return model.Installation{}, err
	}
	client, err := r.devices.GetMacClient(ctx, mac)
	if err != nil {
		return model.Installation{}, err
	}
	if client.ActiveClientID == nil {
		return model.Installation{}, fmt.Errorf("%w: no active installation on %s", apperr.ErrNotFound, mac)
	}
	return r.Checkin(ctx, *client.ActiveClientID, version)
}

// Deactivate retires one installation and clears it from its MAC client.
func (r *Registry) Deactivate(ctx context.Context, clientID, reason string) error {
	if reason == "" {
		reason = "deactivated"
	}
	installation, err := r.devices.GetInstallation(ctx, clientID)
	if err != nil {
		return err
	}
	if err := r.devices.DeactivateInstallation(ctx, clientID, r.clock.Now(), reason); err != nil {
		return err
	}

	client, err := r.devices.GetMacClient(ctx, installation.MacAddress)
	if err != nil {
		return err
	}
	if client.ActiveClientID != nil && *client.ActiveClientID == clientID {
		client.ActiveClientID = nil
		if err := r.devices.SaveMacClient(ctx, client); err != nil {
			return err
		}
	}
	r.log.Info().Str("client_id", clientID).Str("reason", reason).Msg("installation deactivated")
	return nil
}

func (r *Registry) Get(ctx context.Context, clientID string) (model.Installation, error) {
	return r.devices.GetInstallation(ctx, clientID)
}

func (r *Registry) GetByMac(ctx context.Context, macAddress string) (ClientView, error) {
	mac, err := NormalizeMAC(macAddress)
	if err != nil {
		return ClientView{}, err
	}
	client, err := r.devices.GetMacClient(ctx, mac)
	if err != nil {
		return ClientView{}, err
	}
	view := ClientView{MacClient: client}
	if client.ActiveClientID != nil {
		active, err := r.devices.GetInstallation(ctx, *client.ActiveClientID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return ClientView{}, err
		}
		if err == nil {
			view.Active = &active
		}
	}
	return view, nil
}

func (r *Registry) List(ctx context.Context) ([]model.MacClient, error) {
	return r.devices.ListMacClients(ctx)
}

func (r *Registry) History(ctx context.Context, macAddress string) ([]model.Installation, error) {
	mac, err := NormalizeMAC(macAddress)
	if err != nil {
		return nil, err
	}
	if _, err := r.devices.GetMacClient(ctx, mac); err != nil {
		return nil, err
	}
	return r.devices.ListInstallations(ctx, mac)
}

func (r *Registry) Active(ctx context.Context) ([]model.Installation, error) {
	return r.devices.ListActiveInstallations(ctx)
}

// ActiveClientIDs lists the clientId of every registered, active device.
func (r *Registry) ActiveClientIDs(ctx context.Context) ([]string, error) {
	active, err := r.devices.ListActiveInstallations(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(active))
	for _, installation := range active {
		ids = append(ids, installation.ClientID)
	}
	return ids, nil
}
