// Package admin implements the HTTP API used to inspect and manage the agent.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	eduquest "github.com/Mehalmpradeep/EduQuest"
	"github.com/Mehalmpradeep/EduQuest/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Registration *eduquest.Registration
	Storage      *cache.Storage
	// Creates the agent registered on `POST /update`.
	NewAgent func() *eduquest.Agent
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type AgentStatus struct {
	Version   string `json:"version"`
	CacheName string `json:"cacheName"`
	State     string `json:"state"`
}

type Status struct {
	Active  *AgentStatus `json:"active"`
	Waiting *AgentStatus `json:"waiting,omitempty"`
	Clients struct {
		Total      int `json:"total"`
		Controlled int `json:"controlled"`
	} `json:"clients"`
}

type api struct {
	reg      *eduquest.Registration
	storage  *cache.Storage
	newAgent func() *eduquest.Agent
	log      zerolog.Logger
}

// NewRouter returns the admin API router, to be mounted e.g. under `/.agent`.
func NewRouter(config Config) chi.Router {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	a := &api{
		reg:      config.Registration,
		storage:  config.Storage,
		newAgent: config.NewAgent,
		log:      logger.With().Str("component", "admin").Logger(),
	}
	r := chi.NewRouter()
	r.Get("/status", a.status)
	r.Get("/caches", a.listCaches)
	r.Get("/caches/{name}", a.listKeys)
	r.Delete("/caches/{name}", a.deleteCache)
	r.Post("/update", a.update)
	r.Post("/skip-waiting", a.skipWaiting)
	return r
}

func agentStatus(agent *eduquest.Agent) *AgentStatus {
	if agent == nil {
		return nil
	}
	return &AgentStatus{
		Version:   agent.Version(),
		CacheName: agent.CacheName(),
		State:     agent.State().String(),
	}
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	active := a.reg.Active()
	var status Status
	status.Active = agentStatus(active)
	status.Waiting = agentStatus(a.reg.Waiting())
	status.Clients.Total, status.Clients.Controlled = a.reg.Clients().Count(active)
	a.writeJSON(w, http.StatusOK, status)
}

func (a *api) listCaches(w http.ResponseWriter, r *http.Request) {
	names, err := a.storage.Names()
	if err != nil {
		a.fail(w, err, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, names)
}

func (a *api) listKeys(w http.ResponseWriter, r *http.Request) {
	active := a.reg.Active()
	if active == nil {
		http.Error(w, "No active agent", http.StatusServiceUnavailable)
		return
	}
	urls, err := active.Keys(chi.URLParam(r, "name"))
	if errors.Is(err, eduquest.ErrCacheNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		a.fail(w, err, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, urls)
}

func (a *api) deleteCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	deleted, err := a.storage.Delete(name)
	if err != nil {
		a.fail(w, err, http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, eduquest.ErrCacheNotFound.Error(), http.StatusNotFound)
		return
	}
	a.log.Info().Str("cache", name).Msg("Cache deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) update(w http.ResponseWriter, r *http.Request) {
	agent := a.newAgent()
	if err := a.reg.Register(r.Context(), agent); err != nil {
		a.fail(w, err, http.StatusBadGateway)
		return
	}
	a.writeJSON(w, http.StatusOK, agentStatus(agent))
}

func (a *api) skipWaiting(w http.ResponseWriter, r *http.Request) {
	err := a.reg.SkipWaiting(r.Context())
	if errors.Is(err, eduquest.ErrNoWaitingAgent) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		a.fail(w, err, http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, agentStatus(a.reg.Active()))
}

func (a *api) fail(w http.ResponseWriter, err error, status int) {
	a.log.Error().Err(err).Int("status", status).Msg("Admin request failed")
	http.Error(w, err.Error(), status)
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("Could not write response")
	}
}
