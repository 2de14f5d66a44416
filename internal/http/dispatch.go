package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/auth"
	"semaphore/devicehub/internal/model"
)

type handlerFunc func(ctx context.Context, c *call) (response, error)

// action is one entry of the dispatch table. An empty minRole means the
// action is open to devices and needs no session.
type action struct {
	minRole model.Role
	handle  handlerFunc
}

type call struct {
	name      string
	params    params
	token     string
	principal *auth.Principal
}

// actor returns the resolved caller; only valid behind a minRole.
func (c *call) actor() auth.Principal {
	if c.principal == nil {
		return auth.Principal{}
	}
	return *c.principal
}

type callKey struct{}

func callFromContext(ctx context.Context) *call {
	value := ctx.Value(callKey{})
	c, _ := value.(*call)
	return c
}

// parseCall reads the action name and flat parameters from the query string
// and, for POST, a JSON object body layered over them.
func (s *Server) parseCall(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := paramsFromQuery(r.URL.Query())
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
				return
			}
			if len(body) > 0 {
				decoded, err := decodeParams(body)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_request", "body must be a JSON object")
					return
				}
				for key, value := range decoded {
					p[key] = value
				}
			}
		}

		name := p.str("action")
		if name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "action is required")
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = p.str("sessionToken")
		}
		c := &call{name: name, params: p, token: token}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callKey{}, c)))
	})
}

// authorize is the single role gate: it resolves the session of every
// action with a minimum role and compares the role stored on the user.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := callFromContext(r.Context())
		act, found := s.actions[c.name]
		if !found {
			observe("unknown", "unknown_action", 0)
			writeError(w, http.StatusBadRequest, "unknown_action", "unknown action: "+c.name)
			return
		}
		if act.minRole == "" {
			next.ServeHTTP(w, r)
			return
		}
		if c.token == "" {
			s.fail(w, c.name, apperr.ErrUnauthorized, 0)
			return
		}
		principal, err := s.svc.Auth.ValidateSession(r.Context(), c.token)
		if err != nil {
			s.fail(w, c.name, err, 0)
			return
		}
		if !principal.Role.AtLeast(act.minRole) {
			s.log.Warn().Str("action", c.name).Str("user_id", principal.User.ID).Str("role", string(principal.Role)).Msg("action forbidden for role")
			s.fail(w, c.name, apperr.ErrForbidden, 0)
			return
		}
		c.principal = &principal
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	c := callFromContext(r.Context())
	act := s.actions[c.name]
	started := time.Now()

	resp, err := act.handle(r.Context(), c)
	elapsed := time.Since(started).Seconds()
	if err != nil {
		s.fail(w, c.name, err, elapsed)
		return
	}
	resp.Success = true
	observe(c.name, "ok", elapsed)
	writeJSON(w, http.StatusOK, resp)
}

// fail writes the error envelope. Only taxonomy errors expose their message.
func (s *Server) fail(w http.ResponseWriter, name string, err error, elapsed float64) {
	code := apperr.Code(err)
	observe(name, code, elapsed)
	message := err.Error()
	if !apperr.Known(err) {
		s.log.Error().Err(err).Str("action", name).Msg("action failed")
		message = "internal error"
	}
	writeError(w, statusFor(err), code, message)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrInvalidOrExpiredKey):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
