package http

import (
	"context"

	"semaphore/devicehub/internal/devices"
)

func (s *Server) authenticateClientByMac(ctx context.Context, c *call) (response, error) {
	if err := required(c.params, "macAddress", "username"); err != nil {
		return response{}, err
	}
	result, err := s.svc.Devices.Authenticate(ctx, devices.Registration{
		MacAddress:  c.params.str("macAddress"),
		Username:    c.params.str("username"),
		Hostname:    c.params.str("hostname", "computerName"),
		InstallPath: c.params.str("installPath"),
		Platform:    c.params.str("platform"),
		Version:     c.params.str("version"),
	})
	if err != nil {
		return response{}, err
	}
	return ok(result), nil
}

// updateClientMacCheckin refreshes liveness by clientId, or by MAC address
// when the device lost its clientId.
func (s *Server) updateClientMacCheckin(ctx context.Context, c *call) (response, error) {
	version := c.params.str("version")
	if clientID := c.params.str("clientId"); clientID != "" {
		installation, err := s.svc.Devices.Checkin(ctx, clientID, version)
		if err != nil {
			return response{}, err
		}
		return ok(installation), nil
	}
	if err := required(c.params, "macAddress"); err != nil {
		return response{}, err
	}
	installation, err := s.svc.Devices.CheckinByMac(ctx, c.params.str("macAddress"), version)
	if err != nil {
		return response{}, err
	}
	return ok(installation), nil
}

func (s *Server) getClientByMac(ctx context.Context, c *call) (response, error) {
	if err := required(c.params, "macAddress"); err != nil {
		return response{}, err
	}
	view, err := s.svc.Devices.GetByMac(ctx, c.params.str("macAddress"))
	if err != nil {
		return response{}, err
	}
	return ok(view), nil
}

func (s *Server) getAllMacClients(ctx context.Context, _ *call) (response, error) {
	clients, err := s.svc.Devices.List(ctx)
	if err != nil {
		return response{}, err
	}
	return ok(clients), nil
}

func (s *Server) getClientHistory(ctx context.Context, c *call) (response, error) {
	if err := required(c.params, "macAddress"); err != nil {
		return response{}, err
	}
	history, err := s.svc.Devices.History(ctx, c.params.str("macAddress"))
	if err != nil {
		return response{}, err
	}
	return ok(history), nil
}

func (s *Server) getActiveClients(ctx context.Context, _ *call) (response, error) {
	active, err := s.svc.Devices.Active(ctx)
	if err != nil {
		return response{}, err
	}
	return ok(active), nil
}

func (s *Server) deactivateClient(ctx context.Context, c *call) (response, error) {
	if err := required(c.params, "clientId"); err != nil {
		return response{}, err
	}
	if err := s.svc.Devices.Deactivate(ctx, c.params.str("clientId"), c.params.str("reason")); err != nil {
		return response{}, err
	}
	return okMessage("client deactivated", nil), nil
}
