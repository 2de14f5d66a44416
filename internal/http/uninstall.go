package http

import (
	"context"
	"fmt"
	"time"

	"semaphore/devicehub/internal/accesskeys"
	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/devices"
)

// uninstallClients queues the uninstall directive for clientIds, or for every
// active device when none are given.
func (s *Server) uninstallClients(ctx context.Context, c *call) (response, error) {
	all, err := c.params.boolean("all")
	if err != nil {
		return response{}, err
	}
	targets := c.params.list("clientIds")
	if len(targets) == 0 && !all {
		return response{}, fmt.Errorf("%w: clientIds or all=true is required", apperr.ErrValidation)
	}
	if all {
		targets = nil
	}
	report, err := s.svc.Notifications.QueueUninstall(ctx, targets)
	if err != nil {
		return response{}, err
	}
	return ok(report), nil
}

func operationFrom(p params) string {
	if op := p.str("operation"); op != "" {
		return op
	}
	return accesskeys.OperationUninstall
}

// requestFolderAccessKey lets an active device obtain its own key, which it
// may only do for an authorized uninstall.
func (s *Server) requestFolderAccessKey(ctx context.Context, c *call) (response, error) {
	if err := required(c.params, "clientId"); err != nil {
		return response{}, err
	}
	clientID := c.params.str("clientId")
	operation := operationFrom(c.params)
	if operation != accesskeys.OperationUninstall {
		return response{}, fmt.Errorf("%w: devices may only request uninstall keys", apperr.ErrForbidden)
	}
	installation, err := s.svc.Devices.Get(ctx, clientID)
	if err != nil {
		return response{}, err
	}
	if !installation.IsActive {
		s.log.Warn().Str("client_id", clientID).Msg("folder access key requested by inactive client")
		return response{}, fmt.Errorf("%w: client %s is no longer active", apperr.ErrForbidden, clientID)
	}
	authorized, err := s.svc.Notifications.UninstallAuthorized(ctx, clientID)
	if err != nil {
		return response{}, err
	}
	if !authorized {
		s.log.Warn().Str("client_id", clientID).Msg("folder access key requested without authorization")
		return response{}, fmt.Errorf("%w: no approved uninstall for %s", apperr.ErrForbidden, clientID)
	}
	issued, err := s.svc.AccessKeys.Issue(ctx, clientID, operation, 0)
	if err != nil {
		return response{}, err
	}
	return ok(issued), nil
}

func (s *Server) issueFolderAccessKey(ctx context.Context, c *call) (response, error) {
	if err := required(c.params, "clientId"); err != nil {
		return response{}, err
	}
	minutes, err := c.params.integer("durationMinutes", 0)
	if err != nil {
		return response{}, err
	}
	issued, err := s.svc.AccessKeys.Issue(ctx, c.params.str("clientId"), operationFrom(c.params), time.Duration(minutes)*time.Minute)
	if err != nil {
		return response{}, err
	}
	return ok(issued), nil
}

type keyValidation struct {
	Valid     bool   `json:"valid"`
	Operation string `json:"operation"`
}

// validateFolderAccessKey redeems a key. Redeeming an uninstall key also
// retires the directives and approvals that authorized it and deactivates the
// installation.
func (s *Server) validateFolderAccessKey(ctx context.Context, c *call) (response, error) {
	clientID := c.params.str("clientId")
	operation := operationFrom(c.params)
	key, err := s.svc.AccessKeys.Redeem(ctx, clientID, c.params.str("accessKey"), operation)
	if err != nil {
		return response{}, err
	}

	if key.Operation == accesskeys.OperationUninstall {
		if _, err := s.svc.Notifications.CompleteUninstall(ctx, clientID); err != nil {
			s.log.Error().Err(err).Str("client_id", clientID).Msg("failed to complete uninstall")
		}
		if err := s.svc.Devices.Deactivate(ctx, clientID, devices.ReasonUninstalled); err != nil {
			s.log.Warn().Err(err).Str("client_id", clientID).Msg("failed to deactivate uninstalled client")
		}
	}
	return ok(keyValidation{Valid: true, Operation: key.Operation}), nil
}
