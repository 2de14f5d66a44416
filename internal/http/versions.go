package http

import (
	"context"
	"fmt"

	"semaphore/devicehub/internal/apperr"
)

func (s *Server) getVersion(ctx context.Context, _ *call) (response, error) {
	current, err := s.svc.Versions.Current(ctx)
	if err != nil {
		return response{}, err
	}
	return ok(current), nil
}

func (s *Server) getVersionHistory(ctx context.Context, c *call) (response, error) {
	limit, err := c.params.integer("limit", 0)
	if err != nil {
		return response{}, err
	}
	history, err := s.svc.Versions.History(ctx, limit)
	if err != nil {
		return response{}, err
	}
	return ok(history), nil
}

func (s *Server) checkForUpdates(ctx context.Context, c *call) (response, error) {
	if !c.params.has("versionNumber") {
		return response{}, fmt.Errorf("%w: versionNumber is required", apperr.ErrValidation)
	}
	versionNumber, err := c.params.integer("versionNumber", 0)
	if err != nil {
		return response{}, err
	}
	check, err := s.svc.Versions.CheckForUpdates(ctx, versionNumber)
	if err != nil {
		return response{}, err
	}
	return ok(check), nil
}

func (s *Server) syncVersions(ctx context.Context, _ *call) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()
	result, err := s.svc.Versions.Sync(ctx)
	if err != nil {
		return response{}, err
	}
	return ok(result), nil
}
