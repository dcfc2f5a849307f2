// Package v1alpha1 serves the encounter API over HTTP and websockets
package v1alpha1

import (
	"net/http"
	"time"

	"github.com/KirkDiggler/rpg-encounters/internal/auth"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/orchestrators/encounter"
)

// DefaultPingInterval is how often an idle event stream is pinged
const DefaultPingInterval = 30 * time.Second

// HealthChecker reports whether the service's backing store is reachable
type HealthChecker interface {
	Serving() bool
}

// HandlerConfig holds dependencies for the handler
type HandlerConfig struct {
	EncounterService encounter.Service
	Verifier         auth.Verifier
	// Health (optional) backs /healthz; without it /healthz always reports ok
	Health HealthChecker
	// PingInterval (optional) for event streams, defaults to DefaultPingInterval
	PingInterval time.Duration
}

// Validate ensures all required dependencies are present
func (c *HandlerConfig) Validate() error {
	if c == nil {
		return errors.InvalidArgument("config is required")
	}

	vb := errors.NewValidationBuilder()
	if c.EncounterService == nil {
		vb.RequiredField("EncounterService")
	}
	if c.Verifier == nil {
		vb.RequiredField("Verifier")
	}
	if c.PingInterval < 0 {
		vb.Field("PingInterval", "must not be negative")
	}
	return vb.Build()
}

// Handler implements the encounter HTTP API
type Handler struct {
	encounterService encounter.Service
	verifier         auth.Verifier
	health           HealthChecker
	pingInterval     time.Duration
}

// NewHandler creates a new handler with the given configuration
func NewHandler(cfg *HandlerConfig) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Handler{
		encounterService: cfg.EncounterService,
		verifier:         cfg.Verifier,
		health:           cfg.Health,
		pingInterval:     cfg.PingInterval,
	}
	if h.pingInterval == 0 {
		h.pingInterval = DefaultPingInterval
	}
	return h, nil
}

// Routes returns the API mux wrapped in recovery and access logging
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)

	api := http.NewServeMux()
	api.HandleFunc("POST /campaigns/{campaignID}/encounters", h.CreateEncounter)
	api.HandleFunc("GET /campaigns/{campaignID}/encounters", h.ListEncounters)
	api.HandleFunc("GET /campaigns/{campaignID}/events", h.ListEvents)
	api.HandleFunc("GET /campaigns/{campaignID}/events/stream", h.StreamEvents)

	api.HandleFunc("GET /encounters/{encounterID}", h.GetEncounter)
	api.HandleFunc("POST /encounters/{encounterID}/start", h.StartEncounter)
	api.HandleFunc("POST /encounters/{encounterID}/end", h.EndEncounter)

	api.HandleFunc("GET /encounters/{encounterID}/initiative", h.GetInitiative)
	api.HandleFunc("POST /encounters/{encounterID}/initiative", h.CreateEntry)
	api.HandleFunc("POST /encounters/{encounterID}/initiative/refresh-entry", h.RefreshEntry)
	api.HandleFunc("POST /encounters/{encounterID}/initiative/next-turn", h.NextTurn)
	api.HandleFunc("PATCH /encounters/{encounterID}/initiative/{entryID}", h.UpdateEntry)
	api.HandleFunc("DELETE /encounters/{encounterID}/initiative/{entryID}", h.DeleteEntry)
	api.HandleFunc("POST /encounters/{encounterID}/initiative/{entryID}/roll", h.RollInitiative)

	mux.Handle("/", h.authenticate(api))

	return recoverPanics(logRequests(mux))
}

// Healthz reports 200 while the backing store answers and 503 otherwise
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	if h.health != nil && !h.health.Serving() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
