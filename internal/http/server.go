package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"semaphore/devicehub/internal/accesskeys"
	"semaphore/devicehub/internal/auth"
	"semaphore/devicehub/internal/devices"
	"semaphore/devicehub/internal/notifications"
	"semaphore/devicehub/internal/versions"
)

const (
	maxBodyBytes       = 1 << 20
	defaultSyncTimeout = 30 * time.Second
)

// Services is everything the action boundary dispatches to.
type Services struct {
	Auth          *auth.Service
	Devices       *devices.Registry
	Notifications *notifications.Ledger
	AccessKeys    *accesskeys.Issuer
	Versions      *versions.Engine
}

type Options struct {
	Logger zerolog.Logger
	// SyncTimeout bounds an admin-triggered version sync.
	SyncTimeout time.Duration
}

type Server struct {
	svc         Services
	log         zerolog.Logger
	syncTimeout time.Duration
	actions     map[string]action
}

func NewServer(svc Services, opts Options) *Server {
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaultSyncTimeout
	}
	s := &Server{svc: svc, log: opts.Logger, syncTimeout: opts.SyncTimeout}
	s.actions = s.actionTable()
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.parseCall, s.authorize).Get("/api", s.handleAction)
	r.With(s.parseCall, s.authorize).Post("/api", s.handleAction)

	return r
}

// response is the single envelope of the action boundary.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(data any) response {
	return response{Success: true, Data: data}
}

func okMessage(message string, data any) response {
	return response{Success: true, Message: message, Data: data}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, response{Success: false, Code: code, Message: message})
}
